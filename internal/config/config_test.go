package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:3030", cfg.ListenAddr)
	assert.Equal(t, "/mnt", cfg.TargetRoot)
	assert.Equal(t, 500*time.Millisecond, cfg.SimulatedInterval)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 100, cfg.HubCapacity)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoad_Environment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("INSTALLER_DEMO", "true")
	t.Setenv("INSTALLER_FAIL_AT", "partition")
	t.Setenv("INSTALLER_S3_BUCKET", "logs")
	t.Setenv("INSTALLER_HEARTBEAT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Demo)
	assert.Equal(t, "partition", cfg.FailAt)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat)
	assert.True(t, cfg.ArchiveEnabled())
}

func TestLoad_ConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	content := "listen-addr: 127.0.0.1:4040\nhub-capacity: 32\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4040", cfg.ListenAddr)
	assert.Equal(t, 32, cfg.HubCapacity)
}

func TestLoad_MalformedConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen-addr: [unclosed\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ListenAddr:        ":3030",
			MaxPayloadBytes:   1024,
			WorkDir:           "/tmp/work",
			ConfigName:        "nixblitz",
			TargetRoot:        "/mnt",
			SQLitePath:        "a.db",
			FSMDBPath:         "fsm",
			SimulatedInterval: time.Millisecond,
			InitialBackoff:    time.Second,
			MaxBackoff:        time.Second,
			HubCapacity:       10,
			Heartbeat:         time.Second,
			LogLevel:          "info",
			LogFormat:         "text",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"relative target root", func(c *Config) { c.TargetRoot = "mnt" }, "target-root"},
		{"bucket without region", func(c *Config) { c.S3Bucket = "logs" }, "s3-region"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max-retries"},
		{"backoff inverted", func(c *Config) { c.MaxBackoff = time.Millisecond }, "backoff"},
		{"zero capacity", func(c *Config) { c.HubCapacity = 0 }, "hub-capacity"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log-level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

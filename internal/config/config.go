package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Client transport
	ListenAddr      string `mapstructure:"listen-addr"`
	MaxPayloadBytes int    `mapstructure:"max-payload-bytes"`

	// Configuration work directory and flake output name
	WorkDir    string `mapstructure:"work-dir"`
	ConfigName string `mapstructure:"config-name"`
	Hostname   string `mapstructure:"hostname"`
	TargetRoot string `mapstructure:"target-root"`

	// Privilege prefix for disk and system tools (sudo, doas); empty runs directly
	PrivilegeHelper string `mapstructure:"privilege-helper"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Log archive (disabled when bucket is empty)
	S3Bucket   string `mapstructure:"s3-bucket"`
	S3Region   string `mapstructure:"s3-region"`
	S3Prefix   string `mapstructure:"s3-prefix"`
	S3Endpoint string `mapstructure:"s3-endpoint"`

	// Feature flags
	Demo              bool          `mapstructure:"demo"`
	SimulatedInterval time.Duration `mapstructure:"simulated-interval"`
	FailAt            string        `mapstructure:"fail-at"`
	AllowIncompatible bool          `mapstructure:"allow-incompatible"`
	Commit            bool          `mapstructure:"commit"`

	// Step retry
	MaxRetries     int           `mapstructure:"max-retries"`
	InitialBackoff time.Duration `mapstructure:"initial-backoff"`
	MaxBackoff     time.Duration `mapstructure:"max-backoff"`

	// Event fan-out
	HubCapacity int           `mapstructure:"hub-capacity"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("listen-addr", "127.0.0.1:3030")
	viper.SetDefault("max-payload-bytes", 16*1024)
	viper.SetDefault("work-dir", "/tmp/installer-engine/config")
	viper.SetDefault("config-name", "nixblitz")
	viper.SetDefault("hostname", "nixblitz")
	viper.SetDefault("target-root", "/mnt")
	viper.SetDefault("privilege-helper", "")
	viper.SetDefault("sqlite-path", ".artifacts/attempts.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-prefix", "installer")
	viper.SetDefault("s3-endpoint", "")
	viper.SetDefault("demo", false)
	viper.SetDefault("simulated-interval", 500*time.Millisecond)
	viper.SetDefault("fail-at", "")
	viper.SetDefault("allow-incompatible", false)
	viper.SetDefault("commit", true)
	viper.SetDefault("max-retries", 2)
	viper.SetDefault("initial-backoff", 2*time.Second)
	viper.SetDefault("max-backoff", 30*time.Second)
	viper.SetDefault("hub-capacity", 100)
	viper.SetDefault("heartbeat", 15*time.Second)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be INSTALLER_LISTEN_ADDR, etc.)
	viper.SetEnvPrefix("INSTALLER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.installer-engine")

	// Read config file (ignore if not found)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ArchiveEnabled reports whether finished attempt logs are uploaded.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen-addr cannot be empty")
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max-payload-bytes must be positive")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.ConfigName == "" {
		return fmt.Errorf("config-name cannot be empty")
	}
	if !strings.HasPrefix(c.TargetRoot, "/") {
		return fmt.Errorf("target-root must be an absolute path")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.ArchiveEnabled() && c.S3Region == "" {
		return fmt.Errorf("s3-region cannot be empty when s3-bucket is set")
	}
	if c.SimulatedInterval <= 0 {
		return fmt.Errorf("simulated-interval must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be non-negative")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("backoff must satisfy 0 < initial-backoff <= max-backoff")
	}
	if c.HubCapacity <= 0 {
		return fmt.Errorf("hub-capacity must be positive")
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json", "systemd":
	default:
		return fmt.Errorf("log-format must be one of text, json, systemd")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}

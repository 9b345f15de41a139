package commands

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/pipeline"
)

func TestResolveFailAt(t *testing.T) {
	steps := pipeline.DefaultSteps()

	kind, err := resolveFailAt(steps, "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.Kind(""), kind)

	kind, err = resolveFailAt(steps, "partition")
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindPartitionDisk, kind)

	kind, err = resolveFailAt(steps, "copy_system")
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindCopySystem, kind)

	_, err = resolveFailAt(steps, "explode")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	newLogger("warn", "text", &buf).Info("hidden")
	assert.Empty(t, buf.String())

	newLogger("info", "json", &buf).Info("engine_started", "addr", ":3030")
	assert.Contains(t, buf.String(), `"msg":"engine_started"`)

	buf.Reset()
	newLogger("info", "systemd", &buf).Info("engine_started")
	assert.NotContains(t, buf.String(), "time=")
	assert.Contains(t, buf.String(), "msg=engine_started")

	assert.True(t, newLogger("debug", "text", &buf).Enabled(context.Background(), slog.LevelDebug))
}

package logging

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/martinemde/blockbot/config"
)

func TestRunStamp(t *testing.T) {
	ts := time.Date(2024, 7, 1, 12, 30, 45, 123_000_000, time.UTC)
	assert.Equal(t, "2024-07-01T12-30-45-123Z", RunStamp(ts))
}

func TestNewWritesRunFile(t *testing.T) {
	dir := t.TempDir()
	logger, path, err := New(config.LoggingConfig{Level: "info", Format: "json", Dir: dir}, false)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	logger.Info("spawned")
	logger.Debug("hidden at info level")
	_ = logger.Sync() // stderr may not support fsync

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"spawned"`)
	assert.False(t, strings.Contains(string(data), "hidden"))
}

func TestNewVerboseAndBadLevel(t *testing.T) {
	logger, path, err := New(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "verbose enables debug")

	_, _, err = New(config.LoggingConfig{Level: "chatty"}, false)
	require.Error(t, err)
}

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestInitialize_ConsoleOnly(t *testing.T) {
	Initialize("debug", "")
	defer Shutdown()

	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestInitialize_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "natsift.log")
	Initialize("info", path)

	slog.Info("hello from the test")
	require.NoError(t, Shutdown())

	// Shutdown twice is safe.
	require.NoError(t, Shutdown())
}

func TestMultiHandler(t *testing.T) {
	var warnBuf, debugBuf bytes.Buffer
	h := multiHandler{
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	logger := slog.New(h)

	logger.Debug("quiet")
	logger.Warn("loud")

	assert.NotContains(t, warnBuf.String(), "quiet")
	assert.Contains(t, warnBuf.String(), "loud")
	assert.Contains(t, debugBuf.String(), "quiet")
	assert.Contains(t, debugBuf.String(), "loud")
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := multiHandler{slog.NewTextHandler(&buf, nil)}
	logger := slog.New(h).With("component", "pool")

	logger.Info("started")
	assert.Contains(t, buf.String(), "component=pool")
}

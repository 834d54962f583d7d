package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/config"
)

func TestSetupWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shelf.log")
	logger, closer, err := Setup(config.LoggingConfig{File: path, Level: "debug"})
	require.NoError(t, err)

	logger.Debug("fetching", "key", "li1")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "fetching", line["msg"])
	assert.Equal(t, "li1", line["key"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNullDiscards(t *testing.T) {
	logger := Null()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	logger.Error("dropped")
}

func TestSetupStderr(t *testing.T) {
	logger, closer, err := Setup(config.LoggingConfig{File: Stderr, Level: "warn"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestAttributeHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ForQuery(ForStore(ForCommand(base, "items"), "progress"), "u1::lib1::items").Info("loaded")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "items", line[KeyCommand])
	assert.Equal(t, "progress", line[KeyStore])
	assert.Equal(t, "u1::lib1::items", line[KeyQuery])
}

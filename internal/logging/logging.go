// Package logging builds the application's slog logger and holds the
// attribute names every package logs under.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/shelf/internal/config"
)

// Attribute keys shared across packages, so one log file can be filtered by
// store, query or command.
const (
	KeyStore   = "store"
	KeyQuery   = "query"
	KeyCommand = "command"
)

// Stderr as logging.file sends text lines to the terminal instead of a file.
const Stderr = "stderr"

// Setup builds the logger described by cfg. The returned Closer releases the
// log file; it is a no-op for Stderr.
func Setup(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.File == Stderr {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, opts)), f, nil
}

// ForStore tags logger with a keyed store's name.
func ForStore(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(KeyStore, name)
}

// ForQuery tags logger with a rendered query key.
func ForQuery(logger *slog.Logger, key string) *slog.Logger {
	return logger.With(KeyQuery, key)
}

// ForCommand tags logger with the CLI command being run.
func ForCommand(logger *slog.Logger, cmd string) *slog.Logger {
	return logger.With(KeyCommand, cmd)
}

// ParseLevel converts a level name to slog.Level. Unknown names mean INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Null returns a logger that discards all output
func Null() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

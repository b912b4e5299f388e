// Package logging configures the process-wide structured logger. The
// CLI installs it once at startup; everything else logs through the
// slog default so library code never carries a logger handle.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a text handler writing to stderr at the given level
// and returns the logger. Unrecognized levels fall back to info.
func Init(level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Warn logs through the default logger.
func Warn(msg string, args ...any) {
	slog.Default().Warn(msg, args...)
}

// Error logs through the default logger.
func Error(msg string, args ...any) {
	slog.Default().Error(msg, args...)
}

package logger

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Configure installs the default slog logger. Development environments get a
// colored human-readable handler, everything else gets JSON.
func Configure(w io.Writer, levelStr string, env string) *slog.Logger {
	level := ParseLevel(levelStr)
	var handler slog.Handler

	switch strings.ToLower(env) {
	case "dev", "development":
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

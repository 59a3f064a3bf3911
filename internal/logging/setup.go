package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds the process logger. "pretty" selects colored console output,
// "text" plain key=value lines, anything else JSON.
func New(w io.Writer, format, level string) *slog.Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "pretty":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: true})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: true})
	}
	return slog.New(handler)
}

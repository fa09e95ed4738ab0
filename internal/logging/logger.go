package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a production-friendly JSON logger writing to stdout unless
// format is "console", which prefers a human-readable output.
func New(format, level string) *slog.Logger {
	return NewWriter(os.Stdout, format, level)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "console" {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

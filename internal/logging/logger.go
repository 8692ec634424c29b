package logging

import (
	"io"
	"log/slog"
	"os"
)

const serviceName = "follower-watch"

// New creates the process logger with JSON output on stdout.
func New(level slog.Level) *slog.Logger {
	return NewWriter(os.Stdout, level)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", serviceName)
}

// Component tags a logger with the subsystem that owns it.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

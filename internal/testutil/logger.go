package testutil

import (
	"io"
	"log/slog"
)

// NewLogger returns a logger that discards everything below warn.
// Keeps test output readable while still surfacing real problems.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

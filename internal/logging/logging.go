// Package logging wraps log/slog for the engine's lifecycle, recovery, and
// checkpoint/GC diagnostics, grounded on the teacher pack's
// pkg/logger/logger.go (Config{Level,Format,AddSource}, a guarded default
// instance). Adapted to be instance-scoped rather than a single process
// global: an embeddable library may have several Engines open in one
// process, each wanting its own log correlation id.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls how a Logger formats and filters output.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"; anything else defaults to "text"
	AddSource bool
	Output    io.Writer // defaults to os.Stderr when nil
}

// Logger is a thin handle around *slog.Logger.
type Logger struct {
	*slog.Logger
}

// New constructs a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

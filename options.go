package galdrdb

import (
	"log/slog"
	"time"
)

// Options configures an Engine instance.
type Options struct {
	// Path to the database directory. Created if it does not exist.
	Path string

	// CheckpointInterval is how often the background scheduler (spec
	// §5.1) fires a checkpoint/GC pass regardless of commit volume, so a
	// quiet database still reclaims its WAL and old versions. Zero
	// disables the background scheduler entirely.
	CheckpointInterval time.Duration

	// LogLevel controls the verbosity of the engine's internal logger.
	LogLevel slog.Level

	// LogFormat is "json" or "text"; anything else defaults to "text".
	LogFormat string
}

// DefaultOptions returns sensible defaults for path.
func DefaultOptions(path string) *Options {
	return &Options{
		Path:               path,
		CheckpointInterval: 5 * time.Second,
		LogLevel:           slog.LevelInfo,
		LogFormat:          "text",
	}
}

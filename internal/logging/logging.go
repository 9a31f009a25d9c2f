package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where logs go and how much is kept.
type Config struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	Level string

	// FilePath receives JSON log lines; empty disables file logging.
	FilePath string

	// MaxSizeMB rotates the file once it grows past this size.
	MaxSizeMB int

	// MaxFiles caps how many rotated files are kept.
	MaxFiles int

	// WriteToStderr mirrors log lines to stderr.
	WriteToStderr bool
}

// DefaultConfig logs at info to the default file path and stderr, rotating
// at 10MB with 5 files kept.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds a JSON slog.Logger per cfg. The returned cleanup flushes
// and closes the log file; call it on shutdown.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		var sink io.Writer = io.Discard
		if cfg.WriteToStderr {
			sink = os.Stderr
		}
		handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: LevelFromString(cfg.Level)})
		return slog.New(handler), func() {}, nil
	}
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var sink io.Writer = writer
	if cfg.WriteToStderr {
		sink = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: LevelFromString(cfg.Level)})
	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return slog.New(handler), cleanup, nil
}

// SetupDefault installs a debug-level logger as the process default and
// returns its cleanup.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// LevelFromString maps a level name to slog.Level; unknown names fall back
// to info.
func LevelFromString(level string) slog.Level {
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

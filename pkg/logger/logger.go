// Package logger builds the slog JSON loggers shared by every fleetquery
// service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls handler construction.
type Config struct {
	// Output receives the JSON log lines. Defaults to os.Stdout.
	Output io.Writer
	// Level is the minimum level that gets emitted.
	Level slog.Level
	// AddSource annotates every record with its call site.
	AddSource bool
}

// DefaultConfig returns the production defaults: info level, stdout, no
// source annotations.
func DefaultConfig() *Config {
	return &Config{Output: os.Stdout, Level: slog.LevelInfo}
}

// New builds a JSON logger from cfg. A nil cfg behaves like DefaultConfig.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}))
}

// NewDefault builds a logger with DefaultConfig.
func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// NewWithLevel builds a default logger at the given level.
func NewWithLevel(level slog.Level) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	return New(cfg)
}

// ParseLevel maps a configuration string to a slog.Level, case-insensitively.
// Unrecognized values fall back to info.
func ParseLevel(level string) slog.Level {
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

// WithContext derives a logger whose records all carry the given attributes.
func WithContext(logger *slog.Logger, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return logger.With(args...)
}

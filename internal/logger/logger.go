// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level and output format.
type Config struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// ParseConfig maps LOG_LEVEL / LOG_FORMAT style strings onto a Config.
// Unknown levels fall back to info.
func ParseConfig(level, format string) Config {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		l = slog.LevelInfo
	}
	return Config{Level: l, Format: strings.ToLower(strings.TrimSpace(format))}
}

// New creates a logger writing to stdout and sets it as the default.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	l := slog.New(handler).With("service", "reconciler-service")
	slog.SetDefault(l)
	return l
}

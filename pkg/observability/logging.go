package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig is the subset of internal/config's logging section this
// package needs; duplicated here (rather than imported) to keep
// observability free of a dependency on config.
type LoggingConfig struct {
	Level    string
	Format   string // text | json
	Output   string // stderr | a file path
	Rotation RotationConfig
}

// RotationConfig configures lumberjack-based log file rotation. Only
// meaningful when Output names a file.
type RotationConfig struct {
	Enabled    bool
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// NewLogger builds the root *slog.Logger every component in the process
// is handed, selecting a text or JSON handler and, when Output names a
// file, wiring in rotation via lumberjack. The returned io.Closer closes
// the underlying file (or is a no-op for stderr).
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		if cfg.Rotation.Enabled {
			lj := &lumberjack.Logger{
				Filename:   cfg.Output,
				MaxSize:    cfg.Rotation.MaxSizeMB,
				MaxAge:     cfg.Rotation.MaxAgeDays,
				MaxBackups: cfg.Rotation.MaxBackups,
				Compress:   cfg.Rotation.Compress,
			}
			out = lj
			closer = lj
		} else {
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("observability: open log output %q: %w", cfg.Output, err)
			}
			out = f
			closer = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("observability: unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

package observability

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_DefaultsToTextStderr(t *testing.T) {
	logger, closer, err := NewLogger(LoggingConfig{})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer closer.Close()
	if logger == nil {
		t.Fatal("NewLogger returned nil logger")
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.log")

	logger, closer, err := NewLogger(LoggingConfig{Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hello", "key", "value")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("expected JSON-formatted entry, got %q", data)
	}
}

func TestNewLogger_RotationWritesThroughLumberjack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotated.log")

	logger, closer, err := NewLogger(LoggingConfig{
		Output:   path,
		Rotation: RotationConfig{Enabled: true, MaxSizeMB: 1, MaxBackups: 1},
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("rotated entry")
	if err := closer.Close(); err != nil {
		t.Fatalf("closer.Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file at %s: %v", path, err)
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	if _, _, err := NewLogger(LoggingConfig{Level: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestNewLogger_DebugLevelFiltersNothing(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler)
	logger.Debug("debug visible")
	if buf.Len() == 0 {
		t.Fatal("expected debug-level message to be written")
	}
}

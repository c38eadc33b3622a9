package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.log")

	logger, err := NewLogger(Config{Level: "debug", Output: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger.Info().Str("component", "test").Msg("hello")

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(body), `"message":"hello"`) {
		t.Fatalf("log line missing: %s", body)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger(Config{Level: "nonsense"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
}

func TestNewLoggerBadPath(t *testing.T) {
	if _, err := NewLogger(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")}); err == nil {
		t.Fatal("expected error for unwritable path")
	}
}

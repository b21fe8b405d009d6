package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})

	logger.Debug("probing chunk", "book_id", "moby-dick", "index", 4)

	out := buf.String()
	if !strings.Contains(out, "probing chunk") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "book_id=moby-dick") {
		t.Errorf("output missing attribute: %q", out)
	}
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Info("session resolved", "reader_id", "r-1")

	out := buf.String()
	if !strings.Contains(out, `"msg":"session resolved"`) {
		t.Errorf("output not JSON formatted: %q", out)
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Errorf("info entry leaked through warn filter: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestNewNop_Discards(t *testing.T) {
	logger := NewNop()
	// Must not panic; output goes nowhere.
	logger.Error("discarded", "key", "value")
}

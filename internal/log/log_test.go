package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})
	logger.Info("chunking document", "filename", "notes.txt")

	output := buf.String()
	if !strings.Contains(output, "chunking document") {
		t.Errorf("expected output to contain the message, got: %s", output)
	}
	if !strings.Contains(output, "filename=notes.txt") {
		t.Errorf("expected output to contain the attribute, got: %s", output)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{JSON: true})
	logger.Info("json test", "foo", "bar")

	if !strings.Contains(buf.String(), `"msg":"json test"`) {
		t.Errorf("expected JSON output with msg field, got: %s", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop() returned nil")
	}
	logger.Info("this should be discarded")
	logger.Error("this too")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{})
	logger.With("component", "retrieval").Info("component log")

	if !strings.Contains(buf.String(), "component=retrieval") {
		t.Errorf("expected output to contain 'component=retrieval', got: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.Debug("debug should not appear")
	logger.Info("info should appear")

	output := buf.String()
	if strings.Contains(output, "debug should not appear") {
		t.Error("DEBUG message should be filtered out")
	}
	if !strings.Contains(output, "info should appear") {
		t.Error("INFO message should appear")
	}
}

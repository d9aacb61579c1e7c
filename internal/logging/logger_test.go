package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestConsoleHandlerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(&consoleHandler{mu: &sync.Mutex{}, writer: &buf, level: lvl})

	logger.Info("job finished",
		String(FieldComponent, "workflow"),
		String(FieldJobID, "abc123"),
		Int(FieldAttempt, 4),
	)

	line := buf.String()
	if !strings.Contains(line, " INFO workflow: job finished") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "job_id=abc123") || !strings.Contains(line, "attempt=4") {
		t.Fatalf("expected attrs in line: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be lifted out of attrs: %q", line)
	}
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(&consoleHandler{mu: &sync.Mutex{}, writer: &buf, level: lvl})

	logger.Warn("dead letter", String("reason", "submit rejected by service"))
	if !strings.Contains(buf.String(), `reason="submit rejected by service"`) {
		t.Fatalf("expected quoted value: %q", buf.String())
	}
}

func TestJSONHandlerEmitsLowercaseLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl))

	logger.Error("queue receive failed", Error(context.Canceled))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if payload["level"] != "error" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", OutputPaths: nil})
	_ = logger
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	h := &consoleHandler{mu: &sync.Mutex{}, writer: &buf, level: lvl}
	filtered := slog.New(h)
	filtered.Info("should be dropped")
	filtered.Warn("should appear")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatal("info line should have been filtered")
	}
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatal("warn line missing")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should report disabled")
	}
}

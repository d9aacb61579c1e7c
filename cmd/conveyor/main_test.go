package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/jobs"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\n",
		filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("conveyor %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestEnqueueListShowCancelRoundTrip(t *testing.T) {
	configPath := writeTestConfig(t)
	jobID := jobs.DeriveID("media/input.mov")

	out := runCommand(t, configPath, "enqueue", "media/input.mov", "--output", "media/output.mp4")
	if !strings.Contains(out, jobID) {
		t.Fatalf("enqueue output missing job id: %s", out)
	}

	// Duplicate enqueue is a no-op.
	out = runCommand(t, configPath, "enqueue", "media/input.mov", "--json")
	var enqueue struct {
		JobID   string `json:"jobId"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal([]byte(out), &enqueue); err != nil {
		t.Fatalf("decode enqueue output: %v\n%s", err, out)
	}
	if enqueue.Created || enqueue.JobID != jobID {
		t.Fatalf("unexpected duplicate enqueue result: %+v", enqueue)
	}

	out = runCommand(t, configPath, "list", "--json")
	var records []jobs.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].Status != jobs.StatusPending {
		t.Fatalf("unexpected list result: %+v", records)
	}

	out = runCommand(t, configPath, "show", "media/input.mov", "--json")
	var shown jobs.Record
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if shown.JobID != jobID || shown.OutputRef != "media/output.mp4" {
		t.Fatalf("unexpected show result: %+v", shown)
	}

	runCommand(t, configPath, "cancel", jobID, "--reason", "test cleanup")
	out = runCommand(t, configPath, "show", jobID, "--json")
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if shown.Status != jobs.StatusFailed || shown.LastError == nil || shown.LastError.Kind != jobs.KindCancelled {
		t.Fatalf("expected cancelled job, got %+v", shown)
	}
}

func TestStatsReportsQueueDepth(t *testing.T) {
	configPath := writeTestConfig(t)

	runCommand(t, configPath, "enqueue", "media/a.mov")
	runCommand(t, configPath, "enqueue", "media/b.mov")

	out := runCommand(t, configPath, "stats", "--json")
	var stats struct {
		Jobs       map[string]int `json:"jobs"`
		QueueDepth int            `json:"queueDepth"`
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats output: %v\n%s", err, out)
	}
	if stats.Jobs["PENDING"] != 2 || stats.QueueDepth != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDeadLettersListEmpty(t *testing.T) {
	configPath := writeTestConfig(t)

	out := runCommand(t, configPath, "deadletters", "list")
	if !strings.Contains(out, "No dead letters") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")

	out := runCommand(t, configPath, "config", "init")
	if !strings.Contains(out, configPath) {
		t.Fatalf("unexpected init output: %s", out)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected sample config written: %v", err)
	}

	out = runCommand(t, configPath, "config", "show")
	if !strings.Contains(out, "[queue]") || !strings.Contains(out, "visibility_timeout") {
		t.Fatalf("unexpected show output: %s", out)
	}
}

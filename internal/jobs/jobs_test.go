package jobs_test

import (
	"testing"

	"conveyor/internal/jobs"
)

func TestDeriveIDIsDeterministic(t *testing.T) {
	first := jobs.DeriveID("video-42")
	second := jobs.DeriveID("video-42")
	if first != second {
		t.Fatalf("expected identical ids, got %s and %s", first, second)
	}
	if first == jobs.DeriveID("video-43") {
		t.Fatal("expected distinct inputs to derive distinct ids")
	}
	if len(first) != 32 {
		t.Fatalf("unexpected id length: %d", len(first))
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		input  string
		expect jobs.Status
		ok     bool
	}{
		{"PENDING", jobs.StatusPending, true},
		{" in_progress ", jobs.StatusInProgress, true},
		{"succeeded", jobs.StatusSucceeded, true},
		{"", "", false},
		{"bogus", "", false},
	}
	for _, tc := range cases {
		status, ok := jobs.ParseStatus(tc.input)
		if ok != tc.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tc.input, tc.ok, ok)
		}
		if ok && status != tc.expect {
			t.Fatalf("%q: expected %s, got %s", tc.input, tc.expect, status)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to jobs.Status }{
		{jobs.StatusPending, jobs.StatusSubmitted},
		{jobs.StatusPending, jobs.StatusFailed},
		{jobs.StatusSubmitted, jobs.StatusInProgress},
		{jobs.StatusSubmitted, jobs.StatusFailed},
		{jobs.StatusInProgress, jobs.StatusInProgress},
		{jobs.StatusInProgress, jobs.StatusSucceeded},
		{jobs.StatusInProgress, jobs.StatusFailed},
	}
	for _, tc := range allowed {
		if !jobs.CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to jobs.Status }{
		{jobs.StatusPending, jobs.StatusInProgress},
		{jobs.StatusPending, jobs.StatusSucceeded},
		{jobs.StatusSubmitted, jobs.StatusSucceeded},
		{jobs.StatusSucceeded, jobs.StatusFailed},
		{jobs.StatusFailed, jobs.StatusPending},
		{jobs.StatusFailed, jobs.StatusFailed},
		{jobs.StatusInProgress, jobs.StatusPending},
	}
	for _, tc := range denied {
		if jobs.CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestNewRecordDefaults(t *testing.T) {
	rec := jobs.NewRecord("video-42", "out/video-42.mp4")
	if rec.JobID != jobs.DeriveID("video-42") {
		t.Fatalf("unexpected job id %s", rec.JobID)
	}
	if rec.Status != jobs.StatusPending {
		t.Fatalf("expected PENDING, got %s", rec.Status)
	}
	if rec.Attempt != 0 {
		t.Fatalf("expected zero attempts, got %d", rec.Attempt)
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Fatal("expected created/updated timestamps to be initialized together")
	}
}

func TestFailSetsTerminalDetail(t *testing.T) {
	rec := jobs.NewRecord("video-42", "")
	rec.Fail(jobs.KindPollExhausted, "no progress after 3 attempts")
	if rec.Status != jobs.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if rec.LastError == nil || rec.LastError.Kind != jobs.KindPollExhausted {
		t.Fatalf("unexpected last error: %+v", rec.LastError)
	}
}

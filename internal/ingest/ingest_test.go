package ingest_test

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/ingest"
	"conveyor/internal/jobs"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

func newListener(t *testing.T) (*ingest.Listener, *store.Store, *queue.Queue) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	database := testsupport.MustOpenDB(t, cfg)
	st := store.New(database)
	q := queue.New(database)
	return ingest.New(st, q, nil), st, q
}

func TestEnqueueCreatesJobAndMessage(t *testing.T) {
	listener, st, q := newListener(t)
	ctx := context.Background()

	jobID, created, err := listener.Enqueue(ctx, "media/input.mov", "media/output.mp4")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !created {
		t.Fatal("expected new job")
	}
	if jobID != jobs.DeriveID("media/input.mov") {
		t.Fatalf("unexpected job id %q", jobID)
	}

	rec, err := st.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != jobs.StatusPending || rec.OutputRef != "media/output.mp4" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	msg, err := q.Receive(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg == nil || msg.JobID != jobID {
		t.Fatalf("expected queue message for %s, got %+v", jobID, msg)
	}
}

func TestEnqueueDuplicateIsIdempotent(t *testing.T) {
	listener, _, q := newListener(t)
	ctx := context.Background()

	first, created, err := listener.Enqueue(ctx, "media/input.mov", "")
	if err != nil || !created {
		t.Fatalf("first Enqueue: created=%v err=%v", created, err)
	}
	second, created, err := listener.Enqueue(ctx, "media/input.mov", "")
	if err != nil {
		t.Fatalf("duplicate Enqueue: %v", err)
	}
	if created {
		t.Fatal("duplicate must not create a new job")
	}
	if second != first {
		t.Fatalf("duplicate returned different id: %s vs %s", second, first)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("duplicate must not enqueue a second message, got depth %d", depth)
	}
}

func TestEnqueueRejectsEmptyInput(t *testing.T) {
	listener, _, q := newListener(t)

	_, _, err := listener.Enqueue(context.Background(), "   ", "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("expected permanent classification, got %v", err)
	}
	depth, _ := q.Depth(context.Background())
	if depth != 0 {
		t.Fatalf("rejected request must not enqueue, got depth %d", depth)
	}
}

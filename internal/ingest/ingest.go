// Package ingest accepts conversion requests and turns them into queued jobs.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"conveyor/internal/bus"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

// Request is the wire payload accepted on the input subject.
type Request struct {
	InputRef  string `json:"inputRef"`
	OutputRef string `json:"outputRef"`
}

// Listener validates requests, creates job records, and enqueues work.
type Listener struct {
	store  *store.Store
	queue  *queue.Queue
	logger *slog.Logger
}

// New builds a listener over the shared store and queue.
func New(st *store.Store, q *queue.Queue, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Listener{
		store:  st,
		queue:  q,
		logger: logger.With(logging.String(logging.FieldComponent, "ingest")),
	}
}

// Enqueue registers a conversion request. The job id derives from the input
// reference, so resubmitting the same input is a no-op: created reports
// whether this call produced a new job, and only a new job gets a queue
// message.
func (l *Listener) Enqueue(ctx context.Context, inputRef, outputRef string) (string, bool, error) {
	inputRef = strings.TrimSpace(inputRef)
	if inputRef == "" {
		return "", false, services.Wrap(services.ErrValidation, "ingest", "enqueue", "input reference is empty", nil)
	}

	rec := jobs.NewRecord(inputRef, strings.TrimSpace(outputRef))
	created, err := l.store.Create(ctx, rec)
	if err != nil {
		return "", false, fmt.Errorf("create job record: %w", err)
	}
	if !created {
		l.logger.Info("duplicate request ignored",
			logging.String(logging.FieldJobID, rec.JobID),
			logging.String("input_ref", inputRef))
		return rec.JobID, false, nil
	}

	if err := l.queue.Enqueue(ctx, rec.JobID); err != nil {
		return rec.JobID, true, fmt.Errorf("enqueue job %s: %w", rec.JobID, err)
	}
	l.logger.Info("job accepted",
		logging.String(logging.FieldJobID, rec.JobID),
		logging.String("input_ref", inputRef))
	return rec.JobID, true, nil
}

// Subscribe attaches the listener to the bus input subject. Malformed
// payloads and rejected requests are logged and dropped; the subject is
// fire-and-forget for producers.
func (l *Listener) Subscribe(client *bus.Client, subject string) (*nats.Subscription, error) {
	return client.SubscribeJSON(subject, func(ctx context.Context, data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			l.logger.Warn("malformed ingest payload", logging.Error(err))
			return
		}
		if _, _, err := l.Enqueue(ctx, req.InputRef, req.OutputRef); err != nil {
			l.logger.Error("ingest failed",
				logging.String("input_ref", req.InputRef),
				logging.Error(err))
		}
	})
}

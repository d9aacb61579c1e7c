package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/services/mediaconvert"
	"conveyor/internal/store"
)

// Notifier publishes the outcome of a job that reached a terminal state.
type Notifier interface {
	PublishCompletion(ctx context.Context, rec *jobs.Record) error
}

// Engine drives a single job through its state machine. It is stateless; all
// progress lives in the status store, and concurrent invocations for the same
// job resolve through optimistic transitions.
type Engine struct {
	store     *store.Store
	queue     *queue.Queue
	converter mediaconvert.Client
	notifier  Notifier
	logger    *slog.Logger

	maxAttempts   int
	callRetries   int
	backoffBase   time.Duration
	backoffCap    time.Duration
	backoffJitter float64
}

// NewEngine wires the workflow engine from its collaborators.
func NewEngine(cfg *config.Config, st *store.Store, q *queue.Queue, converter mediaconvert.Client, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:         st,
		queue:         q,
		converter:     converter,
		notifier:      notifier,
		logger:        logger.With(logging.String(logging.FieldComponent, "workflow")),
		maxAttempts:   cfg.Workflow.MaxAttempts,
		callRetries:   cfg.Workflow.CallRetryAttempts,
		backoffBase:   time.Duration(cfg.Workflow.PollBackoffBase) * time.Second,
		backoffCap:    time.Duration(cfg.Workflow.PollBackoffCap) * time.Second,
		backoffJitter: cfg.Workflow.PollBackoffJitter,
	}
}

// Advance moves the job one step forward from its persisted status and
// returns once the job either reached a terminal state, suspended awaiting a
// delayed follow-up message, or hit a transient fault the queue should retry.
// Permanent converter rejections finalize the record as FAILED and are still
// returned, so the caller can dead-letter the triggering message.
//
// A store.ErrConflict anywhere means another invocation is driving this job;
// the loser logs at debug and reports success so the message is acknowledged.
func (e *Engine) Advance(ctx context.Context, jobID string) error {
	rec, err := e.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("message for unknown job", logging.String(logging.FieldJobID, jobID))
			return nil
		}
		return err
	}

	log := e.logger.With(logging.String(logging.FieldJobID, rec.JobID))

	if rec.Status == jobs.StatusPending {
		// Submit may finalize the job (validation reject), leaving it FAILED.
		if err := e.submit(ctx, rec, log); err != nil {
			return e.swallowConflict(err, log)
		}
	}
	if rec.Status == jobs.StatusSubmitted {
		if err := e.store.Transition(ctx, rec, jobs.StatusInProgress, nil); err != nil {
			return e.swallowConflict(err, log)
		}
		log.Info("conversion in progress",
			logging.String("external_job_id", rec.ExternalJobID))
	}
	if rec.Status == jobs.StatusInProgress {
		return e.swallowConflict(e.pollCycle(ctx, rec, log), log)
	}
	if rec.Status.IsTerminal() {
		// Redelivered duplicate for a finished job.
		log.Debug("job already terminal", logging.String("status", string(rec.Status)))
		return nil
	}
	return fmt.Errorf("job %s has unknown status %q", rec.JobID, rec.Status)
}

// submit starts the remote conversion. Transient submit faults are retried
// in-call up to the configured budget before surfacing to the queue.
func (e *Engine) submit(ctx context.Context, rec *jobs.Record, log *slog.Logger) error {
	var (
		externalID string
		err        error
	)
	for call := 1; ; call++ {
		externalID, err = e.converter.Submit(ctx, rec.InputRef)
		if err == nil {
			break
		}
		if services.IsPermanent(err) {
			// Record the rejection, then surface the permanent error so the
			// caller routes the message to the dead-letter queue.
			if ferr := e.finalize(ctx, rec, services.Kind(err), services.Message(err), log); ferr != nil {
				return ferr
			}
			return err
		}
		if call >= e.callRetries || ctx.Err() != nil {
			return fmt.Errorf("submit job %s: %w", rec.JobID, err)
		}
		log.Warn("submit failed, retrying",
			logging.Int("call", call),
			logging.Error(err))
	}

	if err := e.store.Transition(ctx, rec, jobs.StatusSubmitted, func(next *jobs.Record) {
		next.ExternalJobID = externalID
	}); err != nil {
		return err
	}
	log.Info("conversion submitted", logging.String("external_job_id", externalID))
	return nil
}

// pollCycle performs one poll of the remote job, counting the attempt, and
// either finalizes the record or schedules the next poll via a delayed
// message.
func (e *Engine) pollCycle(ctx context.Context, rec *jobs.Record, log *slog.Logger) error {
	attempt := rec.Attempt + 1

	result, err := e.converter.Poll(ctx, rec.ExternalJobID)
	if err != nil {
		if services.IsPermanent(err) {
			if ferr := e.finalize(ctx, rec, services.Kind(err), services.Message(err), log); ferr != nil {
				return ferr
			}
			return err
		}
		return fmt.Errorf("poll job %s: %w", rec.JobID, err)
	}

	switch {
	case result.Done && result.Succeeded:
		return e.finalizeSuccess(ctx, rec, attempt, log)
	case result.Done:
		message := result.Message
		if message == "" {
			message = "conversion reported failure"
		}
		return e.finalize(ctx, rec, jobs.KindConversionFailed, message, log)
	case attempt >= e.maxAttempts:
		return e.finalize(ctx, rec, jobs.KindPollExhausted,
			fmt.Sprintf("no terminal state after %d polls", attempt), log)
	}

	// Still converting: persist the attempt and suspend until the delayed
	// follow-up message becomes visible. No goroutine waits in between.
	if err := e.store.Transition(ctx, rec, jobs.StatusInProgress, func(next *jobs.Record) {
		next.Attempt = attempt
	}); err != nil {
		return err
	}
	delay := e.backoff(attempt)
	if err := e.queue.EnqueueDelayed(ctx, rec.JobID, delay); err != nil {
		return fmt.Errorf("schedule follow-up poll for %s: %w", rec.JobID, err)
	}
	log.Info("conversion still running",
		logging.Int(logging.FieldAttempt, attempt),
		logging.Float64("progress", result.Progress),
		logging.Duration("next_poll_in", delay))
	return nil
}

func (e *Engine) finalizeSuccess(ctx context.Context, rec *jobs.Record, attempt int, log *slog.Logger) error {
	err := e.store.Transition(ctx, rec, jobs.StatusSucceeded, func(next *jobs.Record) {
		next.Attempt = attempt
		next.LastError = nil
	})
	if err != nil {
		return err
	}
	log.Info("conversion succeeded", logging.Int(logging.FieldAttempt, attempt))
	e.publish(ctx, rec, log)
	return nil
}

// finalize fails the job terminally and publishes the completion. Only the
// transition winner reaches the publish; losers surface ErrConflict to the
// caller.
func (e *Engine) finalize(ctx context.Context, rec *jobs.Record, kind, message string, log *slog.Logger) error {
	err := e.store.Transition(ctx, rec, jobs.StatusFailed, func(next *jobs.Record) {
		next.LastError = &jobs.JobError{Kind: kind, Message: message}
	})
	if err != nil {
		return err
	}
	log.Info("conversion failed",
		logging.String(logging.FieldErrorKind, kind),
		logging.String("detail", message))
	e.publish(ctx, rec, log)
	return nil
}

// publish announces the terminal outcome. Publish failures are logged, never
// retried: the store is the source of truth and a duplicate event would be
// worse than a missing one.
func (e *Engine) publish(ctx context.Context, rec *jobs.Record, log *slog.Logger) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PublishCompletion(ctx, rec); err != nil {
		log.Error("completion publish failed", logging.Error(err))
	}
}

func (e *Engine) swallowConflict(err error, log *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) {
		log.Debug("lost optimistic write, yielding to concurrent worker")
		return nil
	}
	return err
}

// Package worker runs the orchestrator pool that drains the job queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// Advancer moves a job one step through its state machine. The workflow
// engine satisfies it.
type Advancer interface {
	Advance(ctx context.Context, jobID string) error
}

// Alerter pushes operator alerts for dead-lettered messages.
type Alerter interface {
	AlertDeadLetter(ctx context.Context, jobID, reason string) error
}

// Pool runs N worker goroutines, each looping Receive -> Advance -> Ack.
//
// A message is acknowledged only after Advance returns cleanly. Transient
// failures release the message for redelivery; permanent failures and
// messages over the delivery budget move to the dead-letter queue.
type Pool struct {
	queue    *queue.Queue
	advancer Advancer
	alerter  Alerter
	logger   *slog.Logger

	workers       int
	visibility    time.Duration
	idleWait      time.Duration
	maxDeliveries int

	wg sync.WaitGroup
}

// NewPool builds the pool from configuration.
func NewPool(cfg *config.Config, q *queue.Queue, advancer Advancer, alerter Alerter, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workflow.WorkerCount
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:         q,
		advancer:      advancer,
		alerter:       alerter,
		logger:        logger.With(logging.String(logging.FieldComponent, "worker")),
		workers:       workers,
		visibility:    time.Duration(cfg.Queue.VisibilityTimeout) * time.Second,
		idleWait:      time.Duration(cfg.Queue.ReceiveIdleWait) * time.Second,
		maxDeliveries: cfg.Queue.MaxDeliveries,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	p.logger.Info("worker pool started", logging.Int("workers", p.workers))
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	log := p.logger.With(logging.Int(logging.FieldWorkerID, id))
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.queue.Receive(ctx, p.visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("receive failed", logging.Error(err))
			p.sleep(ctx, p.idleWait)
			continue
		}
		if msg == nil {
			p.sleep(ctx, p.idleWait)
			continue
		}
		p.handle(ctx, msg, log)
	}
}

// Drain processes visible messages until the queue is momentarily empty.
// Exposed for single-shot operation in tests and maintenance tooling.
func (p *Pool) Drain(ctx context.Context) error {
	log := p.logger.With(logging.Int(logging.FieldWorkerID, 0))
	for {
		msg, err := p.queue.Receive(ctx, p.visibility)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		p.handle(ctx, msg, log)
	}
}

func (p *Pool) handle(ctx context.Context, msg *queue.Message, log *slog.Logger) {
	log = log.With(logging.String(logging.FieldJobID, msg.JobID))

	if p.maxDeliveries > 0 && msg.Deliveries > p.maxDeliveries {
		reason := fmt.Sprintf("delivery budget exhausted after %d deliveries", msg.Deliveries)
		p.deadLetter(ctx, msg, reason, log)
		return
	}

	err := p.advancer.Advance(ctx, msg.JobID)
	switch {
	case err == nil:
		acked, ackErr := p.queue.Ack(ctx, msg.Receipt)
		if ackErr != nil {
			log.Error("ack failed", logging.Error(ackErr))
			return
		}
		if !acked {
			log.Warn("lease expired before ack, message will be redelivered")
		}
	case services.IsPermanent(err):
		log.Error("permanent failure", logging.Error(err))
		p.deadLetter(ctx, msg, services.Message(err), log)
	default:
		delay := p.retryDelay(msg.Deliveries)
		log.Warn("transient failure, releasing for redelivery",
			logging.Int("deliveries", msg.Deliveries),
			logging.Duration("retry_in", delay),
			logging.Error(err))
		if _, relErr := p.queue.Release(ctx, msg.Receipt, delay); relErr != nil {
			log.Error("release failed, lease will lapse instead", logging.Error(relErr))
		}
	}
}

func (p *Pool) deadLetter(ctx context.Context, msg *queue.Message, reason string, log *slog.Logger) {
	moved, err := p.queue.MoveToDeadLetter(ctx, msg.Receipt, reason)
	if err != nil {
		log.Error("dead-letter move failed", logging.Error(err))
		return
	}
	if !moved {
		log.Warn("lease expired before dead-letter move")
		return
	}
	log.Error("message dead-lettered",
		logging.Int("deliveries", msg.Deliveries),
		logging.String("reason", reason))
	if p.alerter != nil {
		if err := p.alerter.AlertDeadLetter(ctx, msg.JobID, reason); err != nil {
			log.Error("dead-letter alert failed", logging.Error(err))
		}
	}
}

// retryDelay spaces out redeliveries of a flapping message without tying up
// the visibility window.
func (p *Pool) retryDelay(deliveries int) time.Duration {
	delay := time.Duration(deliveries) * 5 * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

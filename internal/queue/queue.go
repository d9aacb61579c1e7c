package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/db"
)

// Message is a leased queue message. The receipt identifies this delivery;
// once the visibility window lapses the message becomes deliverable again and
// the receipt goes stale.
type Message struct {
	ID         int64
	JobID      string
	Payload    string
	Receipt    string
	Deliveries int
	EnqueuedAt time.Time
}

type payload struct {
	JobID string `json:"jobId"`
}

// Queue is the durable at-least-once message queue backing the worker pool.
type Queue struct {
	db *db.DB
}

// New constructs a queue over the shared database.
func New(database *db.DB) *Queue {
	return &Queue{db: database}
}

// Enqueue places a message for a job, immediately visible.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	return q.EnqueueDelayed(ctx, jobID, 0)
}

// EnqueueDelayed places a message that becomes visible after delay. This is
// how the workflow engine schedules follow-up polls without holding a worker.
// An unleased message already queued for the same job suppresses the insert,
// so a job never accumulates duplicate pending messages. Leased messages do
// not count: the engine schedules its follow-up while the triggering message
// is still held by a worker.
func (q *Queue) EnqueueDelayed(ctx context.Context, jobID string, delay time.Duration) error {
	if jobID == "" {
		return errors.New("job id required")
	}
	body, err := json.Marshal(payload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	now := time.Now().UTC()
	_, err = q.db.ExecRetry(
		ctx,
		`INSERT INTO queue_messages (job_id, payload, visible_at, deliveries, enqueued_at)
         SELECT ?, ?, ?, 0, ?
         WHERE NOT EXISTS (
             SELECT 1 FROM queue_messages WHERE job_id = ? AND receipt IS NULL
         )`,
		jobID,
		string(body),
		now.Add(delay).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// Receive leases the oldest visible message for the visibility window,
// incrementing its delivery counter. Returns nil when the queue is empty.
// Messages whose previous lease expired are redelivered here; no separate
// reclaim pass is needed.
func (q *Queue) Receive(ctx context.Context, visibility time.Duration) (*Message, error) {
	now := time.Now().UTC()
	receipt := uuid.NewString()

	row := q.db.QueryRowContext(
		ctx,
		`UPDATE queue_messages
         SET receipt = ?, visible_at = ?, deliveries = deliveries + 1
         WHERE id = (
             SELECT id FROM queue_messages
             WHERE visible_at <= ?
             ORDER BY id
             LIMIT 1
         )
         RETURNING id, job_id, payload, deliveries, enqueued_at`,
		receipt,
		now.Add(visibility).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)

	var (
		msg         Message
		enqueuedRaw string
	)
	err := row.Scan(&msg.ID, &msg.JobID, &msg.Payload, &msg.Deliveries, &enqueuedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	msg.Receipt = receipt
	if enqueued, parseErr := time.Parse(time.RFC3339Nano, enqueuedRaw); parseErr == nil {
		msg.EnqueuedAt = enqueued
	}
	return &msg, nil
}

// Ack removes a delivered message. A stale receipt (lease expired and the
// message re-leased elsewhere) acks nothing and reports false.
func (q *Queue) Ack(ctx context.Context, receipt string) (bool, error) {
	res, err := q.db.ExecRetry(ctx, `DELETE FROM queue_messages WHERE receipt = ?`, receipt)
	if err != nil {
		return false, fmt.Errorf("ack message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Release returns a leased message to the queue ahead of its visibility
// timeout, optionally delayed.
func (q *Queue) Release(ctx context.Context, receipt string, delay time.Duration) (bool, error) {
	res, err := q.db.ExecRetry(
		ctx,
		`UPDATE queue_messages SET receipt = NULL, visible_at = ? WHERE receipt = ?`,
		time.Now().UTC().Add(delay).Format(time.RFC3339Nano),
		receipt,
	)
	if err != nil {
		return false, fmt.Errorf("release message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Depth returns the number of messages currently in the queue, leased or not.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return count, nil
}

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DeadLetter is a message removed from the main queue after exhausting its
// deliveries or hitting a permanent processing failure.
type DeadLetter struct {
	ID             int64
	JobID          string
	Payload        string
	FailureReason  string
	Attempts       int
	DeadLetteredAt time.Time
}

// MoveToDeadLetter takes a leased message out of the queue and records it in
// the dead-letter table with the failure reason and delivery count. A stale
// receipt moves nothing and reports false.
func (q *Queue) MoveToDeadLetter(ctx context.Context, receipt, reason string) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer tx.Rollback()

	var (
		jobID      string
		payload    string
		deliveries int
	)
	row := tx.QueryRowContext(
		ctx,
		`SELECT job_id, payload, deliveries FROM queue_messages WHERE receipt = ?`,
		receipt,
	)
	if err := row.Scan(&jobID, &payload, &deliveries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load message for dead-letter: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO dead_letters (job_id, payload, failure_reason, attempts, dead_lettered_at)
         VALUES (?, ?, ?, ?, ?)`,
		jobID,
		payload,
		reason,
		deliveries,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE receipt = ?`, receipt); err != nil {
		return false, fmt.Errorf("remove dead-lettered message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit dead-letter tx: %w", err)
	}
	return true, nil
}

// DeadLetters lists dead-lettered messages, most recent first. limit <= 0
// returns everything.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	query := `SELECT id, job_id, payload, failure_reason, attempts, dead_lettered_at
              FROM dead_letters ORDER BY dead_lettered_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			letter DeadLetter
			ts     string
		)
		if err := rows.Scan(&letter.ID, &letter.JobID, &letter.Payload, &letter.FailureReason, &letter.Attempts, &ts); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			letter.DeadLetteredAt = parsed
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// Redrive moves dead letters back onto the queue with a fresh delivery
// counter. With no ids it redrives everything. Returns how many messages
// were requeued.
func (q *Queue) Redrive(ctx context.Context, ids ...int64) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin redrive tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT id, job_id, payload FROM dead_letters`
	var args []any
	if len(ids) > 0 {
		placeholders := make([]byte, 0, len(ids)*2)
		for i, id := range ids {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, id)
		}
		query += ` WHERE id IN (` + string(placeholders) + `)`
	}
	query += ` ORDER BY id`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("list dead letters for redrive: %w", err)
	}
	type letter struct {
		id      int64
		jobID   string
		payload string
	}
	var letters []letter
	for rows.Next() {
		var l letter
		if err := rows.Scan(&l.id, &l.jobID, &l.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, l := range letters {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO queue_messages (job_id, payload, visible_at, deliveries, enqueued_at)
             VALUES (?, ?, ?, 0, ?)`,
			l.jobID,
			l.payload,
			now,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("requeue dead letter %d: %w", l.id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, l.id); err != nil {
			return 0, fmt.Errorf("remove redriven dead letter %d: %w", l.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit redrive tx: %w", err)
	}
	return len(letters), nil
}

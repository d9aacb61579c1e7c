package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/jobs"
)

// HealthSummary describes aggregated record counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Active    int
	Succeeded int
	Failed    int
}

// ListByStatus returns records in a status, most recently updated first.
// A zero since lists everything; limit <= 0 means no limit. This is the
// (status, updated_at) access pattern operational dashboards read.
func (s *Store) ListByStatus(ctx context.Context, status jobs.Status, since time.Time, limit int) ([]*jobs.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM job_records WHERE status = ?`
	args := []any{status}
	if !since.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()

	var records []*jobs.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// List returns records filtered by status set (or all records when no status
// is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM job_records`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]byte, 0, len(statuses)*2)
		for i, status := range statuses {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, status)
		}
		query += ` WHERE status IN (` + string(placeholders) + `)`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*jobs.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats returns a count of records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[jobs.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM job_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[jobs.Status]int)
	for rows.Next() {
		var status jobs.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates record state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case jobs.StatusPending:
			health.Pending += count
		case jobs.StatusSubmitted, jobs.StatusInProgress:
			health.Active += count
		case jobs.StatusSucceeded:
			health.Succeeded += count
		case jobs.StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// Cancel administratively fails a non-terminal job with a Cancelled error,
// subject to the same optimistic guard as workflow writes. A terminal job
// returns ErrConflict.
func (s *Store) Cancel(ctx context.Context, jobID, message string) (*jobs.Record, error) {
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: job %s already %s", ErrConflict, jobID, rec.Status)
		}
		err = s.Transition(ctx, rec, jobs.StatusFailed, func(next *jobs.Record) {
			next.LastError = &jobs.JobError{Kind: jobs.KindCancelled, Message: message}
		})
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		// Raced with a workflow write; reload and retry.
	}
	return nil, ErrConflict
}

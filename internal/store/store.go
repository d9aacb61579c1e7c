package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/db"
	"conveyor/internal/jobs"
)

// ErrConflict indicates an optimistic write lost against a concurrent update.
// Expected under at-least-once queue delivery; callers abort the current
// invocation as a no-op.
var ErrConflict = errors.New("write conflict")

// ErrNotFound indicates no record exists for the requested job id.
var ErrNotFound = errors.New("job not found")

// Store persists job records in SQLite. Every write is guarded by optimistic
// concurrency: the prior status and updated_at are part of the WHERE clause,
// so racing writers get exactly one winner per transition.
type Store struct {
	db *db.DB
}

// New constructs a store over the shared database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts a record if no record exists for its job id. It reports
// whether the row was created; an existing record (any status) leaves the
// store untouched.
func (s *Store) Create(ctx context.Context, rec *jobs.Record) (bool, error) {
	if rec == nil {
		return false, errors.New("record is nil")
	}
	res, err := s.db.ExecRetry(
		ctx,
		`INSERT OR IGNORE INTO job_records (
            job_id, status, input_ref, output_ref, external_job_id,
            attempt, error_kind, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID,
		rec.Status,
		rec.InputRef,
		nullableString(rec.OutputRef),
		nullableString(rec.ExternalJobID),
		rec.Attempt,
		nullableString(errorKind(rec.LastError)),
		nullableString(errorMessage(rec.LastError)),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Get fetches a record by job id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*jobs.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM job_records WHERE job_id = ?`, jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Transition applies an optimistic status transition. rec must be a freshly
// loaded record; its status and updated_at are the expected prior values. The
// optional mutate callback adjusts the remaining fields of the new revision.
// On success rec is updated in place; a concurrent write yields ErrConflict
// and rec is left unchanged.
func (s *Store) Transition(ctx context.Context, rec *jobs.Record, to jobs.Status, mutate func(*jobs.Record)) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if !jobs.CanTransition(rec.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s for job %s", rec.Status, to, rec.JobID)
	}

	next := *rec
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}

	// updated_at must strictly increase even when the clock has not moved
	// past the previous write.
	now := time.Now().UTC()
	if !now.After(rec.UpdatedAt) {
		now = rec.UpdatedAt.Add(time.Nanosecond)
	}
	next.UpdatedAt = now

	res, err := s.db.ExecRetry(
		ctx,
		`UPDATE job_records
         SET status = ?, output_ref = ?, external_job_id = ?, attempt = ?,
             error_kind = ?, error_message = ?, updated_at = ?
         WHERE job_id = ? AND status = ? AND updated_at = ?`,
		next.Status,
		nullableString(next.OutputRef),
		nullableString(next.ExternalJobID),
		next.Attempt,
		nullableString(errorKind(next.LastError)),
		nullableString(errorMessage(next.LastError)),
		next.UpdatedAt.Format(time.RFC3339Nano),
		rec.JobID,
		rec.Status,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", rec.Status, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	*rec = next
	return nil
}

const recordColumns = "job_id, status, input_ref, output_ref, external_job_id, attempt, error_kind, error_message, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*jobs.Record, error) {
	var (
		jobID      string
		statusStr  string
		inputRef   string
		outputRef  sql.NullString
		externalID sql.NullString
		attempt    int
		errKind    sql.NullString
		errMessage sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&jobID,
		&statusStr,
		&inputRef,
		&outputRef,
		&externalID,
		&attempt,
		&errKind,
		&errMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &jobs.Record{
		JobID:         jobID,
		Status:        jobs.Status(statusStr),
		InputRef:      inputRef,
		OutputRef:     outputRef.String,
		ExternalJobID: externalID.String,
		Attempt:       attempt,
	}
	if errKind.Valid {
		rec.LastError = &jobs.JobError{Kind: errKind.String, Message: errMessage.String}
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func errorKind(jobErr *jobs.JobError) string {
	if jobErr == nil {
		return ""
	}
	return jobErr.Kind
}

func errorMessage(jobErr *jobs.JobError) string {
	if jobErr == nil {
		return ""
	}
	return jobErr.Message
}

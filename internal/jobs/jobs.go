package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status represents the lifecycle of a conversion job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

var allStatuses = []Status{
	StatusPending,
	StatusSubmitted,
	StatusInProgress,
	StatusSucceeded,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Error kinds recorded in a terminal FAILED record.
const (
	KindValidation       = "Validation"
	KindTransient        = "Transient"
	KindConversionFailed = "ConversionFailed"
	KindPollExhausted    = "PollExhausted"
	KindCancelled        = "Cancelled"
)

// JobError captures the structured failure detail of a FAILED job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Record is the durable state of a single conversion job.
type Record struct {
	JobID         string
	Status        Status
	InputRef      string
	OutputRef     string
	ExternalJobID string
	Attempt       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastError     *JobError
}

// NewRecord builds a pending record for a freshly ingested input.
func NewRecord(inputRef, outputRef string) *Record {
	now := time.Now().UTC()
	return &Record{
		JobID:     DeriveID(inputRef),
		Status:    StatusPending,
		InputRef:  inputRef,
		OutputRef: outputRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeriveID computes the deterministic job identifier for an input reference.
// The same input always maps to the same id, which is what makes re-ingestion
// idempotent.
func DeriveID(inputRef string) string {
	sum := sha256.Sum256([]byte(inputRef))
	return hex.EncodeToString(sum[:16])
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether the status walk from -> to is permitted.
// The walk is monotonic and acyclic except for the IN_PROGRESS self-loop,
// and any non-terminal status may fail directly (validation rejects,
// administrative cancellation).
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusSubmitted
	case StatusSubmitted:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusInProgress || to == StatusSucceeded
	default:
		return false
	}
}

// Fail marks the record as terminally failed with the given error detail.
func (r *Record) Fail(kind, message string) {
	r.Status = StatusFailed
	r.LastError = &JobError{Kind: kind, Message: message}
}

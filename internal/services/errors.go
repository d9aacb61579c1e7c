package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"conveyor/internal/jobs"
)

// Sentinel markers used to classify collaborator failures. Wrap tags an error
// with one of these so callers can decide between retry and abort without
// inspecting message text.
var (
	ErrTransient  = errors.New("transient failure")
	ErrValidation = errors.New("validation error")
	ErrCancelled  = errors.New("cancelled")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether an error should be retried. Unclassified errors
// are treated as transient; only an explicit validation or cancellation marker
// makes a failure permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !IsPermanent(err)
}

// IsPermanent reports whether an error must never be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrCancelled)
}

// Kind maps a classified error to the job error kind persisted on a FAILED
// record.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return jobs.KindValidation
	case errors.Is(err, ErrCancelled):
		return jobs.KindCancelled
	default:
		return jobs.KindTransient
	}
}

// Message extracts the human-readable portion of a classified error, dropping
// the sentinel prefix Wrap adds.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrTransient, ErrValidation, ErrCancelled} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimPrefix(text, prefix)
		}
	}
	return text
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

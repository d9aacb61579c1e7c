package services_test

import (
	"errors"
	"testing"

	"conveyor/internal/jobs"
	"conveyor/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrTransient, "converter", "submit", "service unavailable", cause)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected transient marker to survive wrapping")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to survive wrapping")
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "converter", "poll", "", nil)
	if !services.IsTransient(err) {
		t.Fatal("expected nil marker to default to transient")
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		kind      string
	}{
		{
			name:      "validation is permanent",
			err:       services.Wrap(services.ErrValidation, "converter", "submit", "bad input", nil),
			transient: false,
			kind:      jobs.KindValidation,
		},
		{
			name:      "cancelled is permanent",
			err:       services.Wrap(services.ErrCancelled, "store", "cancel", "", nil),
			transient: false,
			kind:      jobs.KindCancelled,
		},
		{
			name:      "transient is retryable",
			err:       services.Wrap(services.ErrTransient, "converter", "poll", "timeout", nil),
			transient: true,
			kind:      jobs.KindTransient,
		},
		{
			name:      "unclassified defaults to transient",
			err:       errors.New("something odd"),
			transient: true,
			kind:      jobs.KindTransient,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsTransient(tc.err); got != tc.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := services.Kind(tc.err); got != tc.kind {
				t.Fatalf("Kind = %q, want %q", got, tc.kind)
			}
		})
	}
}

func TestMessageStripsMarkerPrefix(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "converter", "submit", "unsupported codec", nil)
	got := services.Message(err)
	want := "converter: submit: unsupported codec"
	if got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}
}

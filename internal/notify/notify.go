package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
)

const userAgent = "Conveyor-Go/0.1.0"

// CompletionEvent is the payload published when a job reaches a terminal
// state. Error is nil on success.
type CompletionEvent struct {
	JobID  string         `json:"jobId"`
	Status jobs.Status    `json:"status"`
	Error  *jobs.JobError `json:"error,omitempty"`
}

// Service is the notification surface exposed to workflow components.
type Service interface {
	// PublishCompletion announces a terminal job exactly where downstream
	// consumers listen. Callers invoke it at most once per job; a publish
	// failure is reported but never retried.
	PublishCompletion(ctx context.Context, rec *jobs.Record) error
	// AlertDeadLetter pushes an operator alert for a dead-lettered message.
	AlertDeadLetter(ctx context.Context, jobID, reason string) error
	// TestNotification exercises the push channel end to end.
	TestNotification(ctx context.Context) error
}

// EventPublisher publishes JSON payloads on a subject. The NATS bus client
// satisfies it.
type EventPublisher interface {
	PublishJSON(subject string, v any) error
}

// NewService builds the notifier. Either half degrades to a no-op when its
// transport is not configured: completions need a bus, alerts need an ntfy
// topic.
func NewService(cfg *config.Config, publisher EventPublisher) Service {
	svc := &service{subject: cfg.Bus.CompletionSubject, publisher: publisher}

	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		svc.push = &ntfyPusher{
			endpoint: topic,
			client:   &http.Client{Timeout: timeout},
		}
	}
	return svc
}

type service struct {
	subject   string
	publisher EventPublisher
	push      *ntfyPusher
}

func (s *service) PublishCompletion(ctx context.Context, rec *jobs.Record) error {
	if rec == nil || !rec.Status.IsTerminal() {
		return fmt.Errorf("completion requires a terminal record")
	}
	if s.publisher == nil || s.subject == "" {
		return nil
	}
	event := CompletionEvent{
		JobID:  rec.JobID,
		Status: rec.Status,
		Error:  rec.LastError,
	}
	if err := s.publisher.PublishJSON(s.subject, event); err != nil {
		return fmt.Errorf("publish completion for %s: %w", rec.JobID, err)
	}
	return nil
}

func (s *service) AlertDeadLetter(ctx context.Context, jobID, reason string) error {
	if s.push == nil {
		return nil
	}
	return s.push.send(ctx, pushPayload{
		title:    "Conveyor - Dead Letter",
		message:  fmt.Sprintf("Job %s moved to the dead-letter queue\nReason: %s", jobID, strings.TrimSpace(reason)),
		tags:     []string{"conveyor", "deadletter", "alert"},
		priority: "high",
	})
}

func (s *service) TestNotification(ctx context.Context) error {
	if s.push == nil {
		return nil
	}
	return s.push.send(ctx, pushPayload{
		title:    "Conveyor - Test",
		message:  "Notification system test",
		tags:     []string{"conveyor", "test"},
		priority: "low",
	})
}

type pushPayload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyPusher struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyPusher) send(ctx context.Context, data pushPayload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

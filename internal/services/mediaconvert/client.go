// Package mediaconvert talks to the external media conversion service. The
// service is asynchronous: a submit returns a job identifier and progress is
// observed through polling.
package mediaconvert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/services"
)

const component = "mediaconvert"

// PollResult reports the remote state of a conversion job.
type PollResult struct {
	// Done is true once the remote job reached a terminal state.
	Done bool
	// Succeeded is meaningful only when Done is true.
	Succeeded bool
	// Progress is the remote completion fraction in [0, 1].
	Progress float64
	// Message carries the remote failure detail, when one was reported.
	Message string
}

// Client is the conversion service surface the workflow engine depends on.
type Client interface {
	// Submit starts a conversion for inputRef and returns the external job id.
	Submit(ctx context.Context, inputRef string) (string, error)
	// Poll reports the current state of a previously submitted job.
	Poll(ctx context.Context, externalJobID string) (PollResult, error)
}

// HTTPClient implements Client against the service's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPClient builds a client for the service at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitRequest struct {
	InputRef string `json:"inputRef"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type pollResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// Submit starts a conversion job. Client-side rejections (4xx) classify as
// validation errors; server and network faults classify as transient.
func (c *HTTPClient) Submit(ctx context.Context, inputRef string) (string, error) {
	if strings.TrimSpace(inputRef) == "" {
		return "", services.Wrap(services.ErrValidation, component, "submit", "input reference is empty", nil)
	}
	body, err := json.Marshal(submitRequest{InputRef: inputRef})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "submit", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "submit", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "submit", "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "submit"); err != nil {
		return "", err
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "submit", "decode response", err)
	}
	if decoded.JobID == "" {
		return "", services.Wrap(services.ErrTransient, component, "submit", "response missing job id", nil)
	}
	return decoded.JobID, nil
}

// Poll reads the remote job state. Unknown remote statuses classify as
// transient so the poll is retried rather than failing the job.
func (c *HTTPClient) Poll(ctx context.Context, externalJobID string) (PollResult, error) {
	if strings.TrimSpace(externalJobID) == "" {
		return PollResult{}, services.Wrap(services.ErrValidation, component, "poll", "external job id is empty", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+externalJobID, nil)
	if err != nil {
		return PollResult{}, services.Wrap(services.ErrValidation, component, "poll", "build request", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return PollResult{}, services.Wrap(services.ErrTransient, component, "poll", "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "poll"); err != nil {
		return PollResult{}, err
	}

	var decoded pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PollResult{}, services.Wrap(services.ErrTransient, component, "poll", "decode response", err)
	}

	result := PollResult{Progress: decoded.Progress, Message: decoded.Message}
	switch strings.ToLower(decoded.Status) {
	case "completed", "succeeded":
		result.Done = true
		result.Succeeded = true
	case "failed", "error", "cancelled":
		result.Done = true
	case "queued", "submitted", "running", "in_progress":
		// Still converting.
	default:
		return PollResult{}, services.Wrap(services.ErrTransient, component, "poll",
			fmt.Sprintf("unrecognized remote status %q", decoded.Status), nil)
	}
	return result, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyStatus maps HTTP status codes to the retry taxonomy. Throttling and
// request timeouts stay transient even though they are 4xx.
func classifyStatus(resp *http.Response, operation string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail := fmt.Sprintf("service returned %s", resp.Status)
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 512)); err == nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			detail += ": " + text
		}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTransient, component, operation, detail, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return services.Wrap(services.ErrValidation, component, operation, detail, nil)
	default:
		return services.Wrap(services.ErrTransient, component, operation, detail, nil)
	}
}

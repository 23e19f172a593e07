package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrRejected = errors.New("backend rejected request")

// RejectedError reports a non-2xx response from the backend.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend rejected request: status %d", e.Status)
	}
	return fmt.Sprintf("backend rejected request: status %d: %s", e.Status, e.Body)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Permanent reports whether retrying the same request cannot succeed.
func (e *RejectedError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests && e.Status != http.StatusRequestTimeout
}

type RegisterTokenRequest struct {
	Token     string `json:"token"`
	UserID    string `json:"userId,omitempty"`
	Platform  string `json:"platform"`
	Timestamp string `json:"timestamp"`
}

type NotificationPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

type ScheduleRequest struct {
	Token        string              `json:"token"`
	Delay        int                 `json:"delay"`
	Notification NotificationPayload `json:"notification"`
	ScheduleTime string              `json:"scheduleTime"`
}

type ScheduleResponse struct {
	ID     string `json:"id"`
	FireAt string `json:"fireAt"`
	Status string `json:"status"`
}

const maxErrorBody = 4 << 10

// BackendClient calls the token registration and remote scheduling endpoints.
type BackendClient struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewBackendClient(baseURL *url.URL, httpClient *http.Client) *BackendClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BackendClient{baseURL: baseURL, httpClient: httpClient}
}

func (c *BackendClient) RegisterToken(ctx context.Context, req RegisterTokenRequest) error {
	return c.post(ctx, "/register-token", req, nil)
}

// ScheduleNotification asks the backend to push a notification after req.Delay seconds.
// A 2xx response with an empty body is still a success.
func (c *BackendClient) ScheduleNotification(ctx context.Context, req ScheduleRequest) (ScheduleResponse, error) {
	var out ScheduleResponse
	if err := c.post(ctx, "/schedule-notification", req, &out); err != nil {
		return ScheduleResponse{}, err
	}
	return out, nil
}

// CancelScheduled withdraws a remote notification that has not been pushed yet.
func (c *BackendClient) CancelScheduled(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("scheduled notification id required")
	}
	return c.do(ctx, http.MethodDelete, "/schedule-notification/"+url.PathEscape(id), nil, nil)
}

func (c *BackendClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *BackendClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RejectedError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *BackendClient) endpoint(path string) string {
	return c.baseURL.JoinPath(path).String()
}

package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTestBackend(t *testing.T, h http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return NewBackendClient(base, srv.Client())
}

func TestBackendRegisterTokenSendsContractBody(t *testing.T) {
	var got map[string]any
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/register-token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "unexpected request", http.StatusNotFound)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.RegisterToken(context.Background(), RegisterTokenRequest{
		Token:     "relay:abc",
		Platform:  "mobile",
		Timestamp: "2026-10-19T10:00:00.000Z",
	})
	if err != nil {
		t.Fatalf("RegisterToken: %v", err)
	}
	if got["token"] != "relay:abc" || got["platform"] != "mobile" || got["timestamp"] != "2026-10-19T10:00:00.000Z" {
		t.Fatalf("unexpected body: %v", got)
	}
	if _, ok := got["userId"]; ok {
		t.Fatalf("empty userId must be omitted: %v", got)
	}
}

func TestBackendScheduleNotificationDecodesResponse(t *testing.T) {
	var got ScheduleRequest
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schedule-notification" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"n1","fireAt":"2026-10-19T10:01:00.000Z","status":"pending"}`))
	})

	out, err := c.ScheduleNotification(context.Background(), ScheduleRequest{
		Token:        "relay:abc",
		Delay:        60,
		Notification: NotificationPayload{Title: "Scheduled notification", Body: "body", Data: map[string]any{"scheduledAt": "2026-10-19T10:00:00.000Z"}},
		ScheduleTime: "2026-10-19T10:01:00.000Z",
	})
	if err != nil {
		t.Fatalf("ScheduleNotification: %v", err)
	}
	if out.ID != "n1" || out.Status != "pending" {
		t.Fatalf("unexpected response: %+v", out)
	}
	if got.Delay != 60 || got.Notification.Data["scheduledAt"] != "2026-10-19T10:00:00.000Z" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestBackendEmptySuccessBody(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if _, err := c.ScheduleNotification(context.Background(), ScheduleRequest{Token: "t", Delay: 60}); err != nil {
		t.Fatalf("expected success on empty 200, got %v", err)
	}
}

func TestBackendNon2xxIsRejected(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"validation_error"}}`, http.StatusBadRequest)
	})

	err := c.RegisterToken(context.Background(), RegisterTokenRequest{Token: "t", Platform: "mobile"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Status != http.StatusBadRequest || !rej.Permanent() {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
}

func TestRejectedErrorPermanent(t *testing.T) {
	cases := map[int]bool{
		http.StatusBadRequest:          true,
		http.StatusNotFound:            true,
		http.StatusTooManyRequests:     false,
		http.StatusRequestTimeout:      false,
		http.StatusInternalServerError: false,
		http.StatusServiceUnavailable:  false,
	}
	for status, want := range cases {
		if got := (&RejectedError{Status: status}).Permanent(); got != want {
			t.Fatalf("status %d: Permanent() = %v, want %v", status, got, want)
		}
	}
}

func TestBackendHonoursContext(t *testing.T) {
	release := make(chan struct{})
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.RegisterToken(ctx, RegisterTokenRequest{Token: "t", Platform: "mobile"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if errors.Is(err, ErrRejected) {
		t.Fatalf("transport failure must not look like a rejection")
	}
}

func TestRelayURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":      "ws://127.0.0.1:8080/relay",
		"https://push.example.com/":  "wss://push.example.com/relay",
		"https://push.example.com/a": "wss://push.example.com/a/relay",
	}
	for in, want := range cases {
		u, _ := url.Parse(in)
		if got := RelayURL(u); got != want {
			t.Fatalf("RelayURL(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestBackendCancelScheduled(t *testing.T) {
	var method, path string
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.CancelScheduled(context.Background(), "n1"); err != nil {
		t.Fatalf("CancelScheduled: %v", err)
	}
	if method != http.MethodDelete || path != "/schedule-notification/n1" {
		t.Fatalf("unexpected request: %s %s", method, path)
	}
	if err := c.CancelScheduled(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

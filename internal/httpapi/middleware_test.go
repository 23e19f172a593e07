package httpapi

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pushscheduler/internal/notifications"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestRouterUpgradesRelayBehindMiddleware(t *testing.T) {
	hub := notifications.NewHub(slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(NewRouter(RouterOpts{
		Logger:  slog.New(slog.DiscardHandler),
		Relay:   hub.Handler(),
		Metrics: http.NotFoundHandler(),
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/relay", nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer conn.CloseNow()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header on the upgrade response")
	}

	if err := wsjson.Write(ctx, conn, notifications.Frame{Type: notifications.FrameHello}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var f notifications.Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read token: %v", err)
	}
	if f.Type != notifications.FrameToken || !notifications.IsRelayToken(f.Token) {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	h := Recoverer(slog.New(slog.DiscardHandler), true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "internal_error" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestRequestLoggerLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := NewRouter(RouterOpts{Logger: logger, Metrics: http.NotFoundHandler()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) || !strings.Contains(buf.String(), `"status":404`) {
		t.Fatalf("expected a warn line for the 404, got %s", buf.String())
	}

	buf.Reset()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(buf.String(), `"level":"INFO"`) || !strings.Contains(buf.String(), `"request_id"`) {
		t.Fatalf("expected an info line with request id, got %s", buf.String())
	}
}

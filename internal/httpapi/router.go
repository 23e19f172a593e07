package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"pushscheduler/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	Notifications *service.NotificationService
	Relay         http.Handler
	Metrics       http.Handler
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	api := &api{
		logger:           logger,
		isProd:           opts.IsProd,
		dbPing:           opts.DBPing,
		notificationsSvc: opts.Notifications,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.handleHealthz)
	mux.Handle("GET /metrics", metrics)
	if opts.Relay != nil {
		mux.Handle("GET /relay", opts.Relay)
	}

	if api.notificationsSvc == nil {
		mux.HandleFunc("POST /register-token", handleNotImplemented)
		mux.HandleFunc("POST /schedule-notification", handleNotImplemented)
	} else {
		mux.HandleFunc("POST /register-token", api.handleRegisterToken)
		mux.HandleFunc("DELETE /register-token", api.handleDeleteToken)
		mux.HandleFunc("POST /schedule-notification", api.handleScheduleNotification)
		mux.HandleFunc("GET /schedule-notification/{id}", api.handleGetScheduled)
		mux.HandleFunc("DELETE /schedule-notification/{id}", api.handleCancelScheduled)
	}

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			handleNotFound(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	dbPing func(context.Context) error

	notificationsSvc *service.NotificationService
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}

func formatMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatMillisPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	out := formatMillis(*t)
	return &out
}

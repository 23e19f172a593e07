// Package pushclient is the device side of remote messaging: token issuance and message
// delivery over the relay websocket, plus the backend registration and scheduling calls.
package pushclient

import (
	"context"
	"time"

	"pushscheduler/internal/notifications"
)

// Service combines the relay connection with the backend HTTP calls. It is built once by
// the composition root and handed to the controllers that need it.
type Service struct {
	Backend  *BackendClient
	Relay    *RelayClient
	Platform string
	UserID   string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) Token(ctx context.Context) (string, error) {
	return s.Relay.Token(ctx)
}

func (s *Service) RefreshToken(ctx context.Context) error {
	return s.Relay.RefreshToken(ctx)
}

// RegisterToken sends token to the backend, stamped with the current time.
func (s *Service) RegisterToken(ctx context.Context, token string) error {
	return s.Backend.RegisterToken(ctx, RegisterTokenRequest{
		Token:     token,
		UserID:    s.UserID,
		Platform:  s.Platform,
		Timestamp: FormatTimestamp(s.now()),
	})
}

func (s *Service) ScheduleNotification(ctx context.Context, req ScheduleRequest) (ScheduleResponse, error) {
	return s.Backend.ScheduleNotification(ctx, req)
}

func (s *Service) CancelScheduled(ctx context.Context, id string) error {
	return s.Backend.CancelScheduled(ctx, id)
}

func (s *Service) OnMessage(fn func(notifications.Message)) *Subscription {
	return s.Relay.OnMessage(fn)
}

func (s *Service) OnTokenRefresh(fn func(string)) *Subscription {
	return s.Relay.OnTokenRefresh(fn)
}

func (s *Service) SetBackgroundHandler(fn func(notifications.Message)) {
	s.Relay.SetBackgroundHandler(fn)
}

func (s *Service) SetForeground(foreground bool) {
	s.Relay.SetForeground(foreground)
}

func (s *Service) Close() error {
	return s.Relay.Close()
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

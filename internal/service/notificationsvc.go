package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"pushscheduler/internal/domain"

	"github.com/google/uuid"
)

const MaxDelaySeconds = 24 * 60 * 60

type NotificationTokensStore interface {
	UpsertToken(ctx context.Context, userID, token, platform string, clientTS *time.Time, when time.Time) (domain.NotificationToken, error)
	GetToken(ctx context.Context, token string) (domain.NotificationToken, error)
	DeleteToken(ctx context.Context, token string) error
}

type ScheduledNotificationsStore interface {
	CreateScheduled(ctx context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error)
	GetScheduled(ctx context.Context, id string) (domain.ScheduledNotification, error)
	CancelScheduled(ctx context.Context, id string, when time.Time) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error)
	MarkSent(ctx context.Context, id string, when time.Time) error
	MarkFailed(ctx context.Context, id, reason string, when time.Time) error
	ResetStuck(ctx context.Context, before time.Time) (int64, error)
}

type ScheduleRequest struct {
	Token        string
	DelaySeconds int
	Title        string
	Body         string
	Data         map[string]any
	ScheduleTime *time.Time
}

type NotificationService struct {
	Tokens    NotificationTokensStore
	Scheduled ScheduledNotificationsStore
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

func (s *NotificationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *NotificationService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *NotificationService) RegisterToken(ctx context.Context, userID, token, platform string, clientTS *time.Time) (domain.NotificationToken, error) {
	if s.Tokens == nil {
		return domain.NotificationToken{}, domain.ErrUnavailable
	}
	token = strings.TrimSpace(token)
	platform = strings.TrimSpace(strings.ToLower(platform))
	fields := map[string]string{}
	if token == "" {
		fields["token"] = "required"
	}
	switch {
	case platform == "":
		fields["platform"] = "required"
	case !validPlatform(platform):
		fields["platform"] = "must be one of android, ios, mobile, desktop, web"
	}
	if len(fields) > 0 {
		return domain.NotificationToken{}, domain.NewValidationError(fields)
	}
	when := s.now().UTC().Truncate(time.Millisecond)
	out, err := s.Tokens.UpsertToken(ctx, strings.TrimSpace(userID), token, platform, clientTS, when)
	if err != nil {
		return domain.NotificationToken{}, err
	}
	tokensRegistered.WithLabelValues(platform).Inc()
	s.logger().Info("notifications: token registered", "platform", platform, "user_id", out.UserID)
	return out, nil
}

func (s *NotificationService) DeleteToken(ctx context.Context, token string) error {
	if s.Tokens == nil {
		return domain.ErrUnavailable
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.NewValidationError(map[string]string{"token": "required"})
	}
	return s.Tokens.DeleteToken(ctx, token)
}

// ScheduleNotification stores a push that the dispatcher sends once DelaySeconds have
// elapsed on the server clock.
func (s *NotificationService) ScheduleNotification(ctx context.Context, req ScheduleRequest) (domain.ScheduledNotification, error) {
	if s.Scheduled == nil {
		return domain.ScheduledNotification{}, domain.ErrUnavailable
	}
	fields := map[string]string{}
	token := strings.TrimSpace(req.Token)
	title := strings.TrimSpace(req.Title)
	if token == "" {
		fields["token"] = "required"
	}
	if title == "" {
		fields["notification.title"] = "required"
	}
	if req.DelaySeconds < 0 || req.DelaySeconds > MaxDelaySeconds {
		fields["delay"] = "must be between 0 and 86400"
	}
	if len(fields) > 0 {
		return domain.ScheduledNotification{}, domain.NewValidationError(fields)
	}

	id := uuid.NewString()
	if s.NewID != nil {
		id = s.NewID()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	n := domain.ScheduledNotification{
		ID:           id,
		Token:        token,
		Title:        title,
		Body:         req.Body,
		Data:         req.Data,
		DelaySeconds: req.DelaySeconds,
		ScheduleTime: req.ScheduleTime,
		FireAt:       now.Add(time.Duration(req.DelaySeconds) * time.Second),
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	out, err := s.Scheduled.CreateScheduled(ctx, n)
	if err != nil {
		s.logger().Error("notifications: schedule failed", "err", err)
		return domain.ScheduledNotification{}, err
	}
	notificationsScheduled.Inc()
	s.logger().Info("notifications: scheduled", "id", out.ID, "fire_at", out.FireAt, "delay", out.DelaySeconds)
	return out, nil
}

func (s *NotificationService) GetScheduled(ctx context.Context, id string) (domain.ScheduledNotification, error) {
	if s.Scheduled == nil {
		return domain.ScheduledNotification{}, domain.ErrUnavailable
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ScheduledNotification{}, domain.ErrNotFound
	}
	return s.Scheduled.GetScheduled(ctx, id)
}

func (s *NotificationService) CancelScheduled(ctx context.Context, id string) error {
	if s.Scheduled == nil {
		return domain.ErrUnavailable
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	if err := s.Scheduled.CancelScheduled(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger().Info("notifications: cancelled", "id", id)
	return nil
}

func validPlatform(p string) bool {
	switch p {
	case "android", "ios", "mobile", "desktop", "web":
		return true
	}
	return false
}

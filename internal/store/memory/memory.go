// Package memory holds in-process stores used when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pushscheduler/internal/domain"

	"github.com/google/uuid"
)

type NotificationTokensStore struct {
	mu     sync.Mutex
	tokens map[string]domain.NotificationToken
}

func NewNotificationTokensStore() *NotificationTokensStore {
	return &NotificationTokensStore{tokens: make(map[string]domain.NotificationToken)}
}

func (s *NotificationTokensStore) UpsertToken(_ context.Context, userID, token, platform string, clientTS *time.Time, when time.Time) (domain.NotificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		t = domain.NotificationToken{ID: uuid.NewString(), Token: token, CreatedAt: when}
	}
	t.UserID = userID
	t.Platform = platform
	t.ClientTimestamp = clientTS
	t.UpdatedAt = when
	s.tokens[token] = t
	return t, nil
}

func (s *NotificationTokensStore) GetToken(_ context.Context, token string) (domain.NotificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return domain.NotificationToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *NotificationTokensStore) DeleteToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

type ScheduledNotificationsStore struct {
	mu    sync.Mutex
	items map[string]domain.ScheduledNotification
}

func NewScheduledNotificationsStore() *ScheduledNotificationsStore {
	return &ScheduledNotificationsStore{items: make(map[string]domain.ScheduledNotification)}
}

func (s *ScheduledNotificationsStore) CreateScheduled(_ context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.Status = domain.StatusPending
	n.UpdatedAt = n.CreatedAt
	s.items[n.ID] = n
	return n, nil
}

func (s *ScheduledNotificationsStore) GetScheduled(_ context.Context, id string) (domain.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return domain.ScheduledNotification{}, domain.ErrNotFound
	}
	return n, nil
}

func (s *ScheduledNotificationsStore) CancelScheduled(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !n.IsPending() {
		return domain.ErrNotPending
	}
	n.Status = domain.StatusCancelled
	n.UpdatedAt = when
	s.items[id] = n
	return nil
}

func (s *ScheduledNotificationsStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.ScheduledNotification
	for _, n := range s.items {
		if n.IsPending() && !n.FireAt.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = domain.StatusSending
		due[i].UpdatedAt = now
		s.items[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *ScheduledNotificationsStore) MarkSent(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusSent
	n.SentAt = &when
	n.UpdatedAt = when
	n.LastError = ""
	s.items[id] = n
	return nil
}

func (s *ScheduledNotificationsStore) MarkFailed(_ context.Context, id, reason string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusFailed
	n.LastError = reason
	n.UpdatedAt = when
	s.items[id] = n
	return nil
}

func (s *ScheduledNotificationsStore) ResetStuck(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.items {
		if item.Status == domain.StatusSending && item.UpdatedAt.Before(before) {
			item.Status = domain.StatusPending
			s.items[id] = item
			n++
		}
	}
	return n, nil
}

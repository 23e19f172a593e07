package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pushscheduler/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduledNotificationsStore struct {
	pool *pgxpool.Pool
}

func NewScheduledNotificationsStore(pool *pgxpool.Pool) *ScheduledNotificationsStore {
	return &ScheduledNotificationsStore{pool: pool}
}

const scheduledColumns = `id, token, title, body, data, delay_seconds, schedule_time, fire_at, status, last_error, created_at, updated_at, sent_at`

func (s *ScheduledNotificationsStore) CreateScheduled(ctx context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error) {
	data, err := marshalData(n.Data)
	if err != nil {
		return domain.ScheduledNotification{}, fmt.Errorf("create scheduled notification: %w", err)
	}

	q := `
		INSERT INTO scheduled_notifications (id, token, title, body, data, delay_seconds, schedule_time, fire_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + scheduledColumns

	row := s.pool.QueryRow(ctx, q, n.ID, n.Token, n.Title, n.Body, data, n.DelaySeconds, n.ScheduleTime, n.FireAt, string(domain.StatusPending), n.CreatedAt)
	out, err := scanScheduled(row)
	if err != nil {
		return domain.ScheduledNotification{}, fmt.Errorf("create scheduled notification: %w", err)
	}
	return out, nil
}

func (s *ScheduledNotificationsStore) GetScheduled(ctx context.Context, id string) (domain.ScheduledNotification, error) {
	q := `SELECT ` + scheduledColumns + ` FROM scheduled_notifications WHERE id = $1`

	out, err := scanScheduled(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScheduledNotification{}, domain.ErrNotFound
		}
		return domain.ScheduledNotification{}, fmt.Errorf("get scheduled notification: %w", err)
	}
	return out, nil
}

func (s *ScheduledNotificationsStore) CancelScheduled(ctx context.Context, id string, when time.Time) error {
	const q = `
		UPDATE scheduled_notifications
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, q, id, when)
	if err != nil {
		return fmt.Errorf("cancel scheduled notification: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM scheduled_notifications WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("cancel scheduled notification: %w", err)
	}
	return domain.ErrNotPending
}

// ClaimDue moves up to limit due pending rows to sending and returns them.
// Concurrent dispatchers never claim the same row.
func (s *ScheduledNotificationsStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	q := `
		UPDATE scheduled_notifications
		SET status = 'sending', updated_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_notifications
			WHERE status = 'pending' AND fire_at <= $1
			ORDER BY fire_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + scheduledColumns

	rows, err := s.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledNotification
	for rows.Next() {
		n, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	return out, nil
}

func (s *ScheduledNotificationsStore) MarkSent(ctx context.Context, id string, when time.Time) error {
	const q = `
		UPDATE scheduled_notifications
		SET status = 'sent', sent_at = $2, updated_at = $2, last_error = ''
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, q, id, when); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

func (s *ScheduledNotificationsStore) MarkFailed(ctx context.Context, id, reason string, when time.Time) error {
	const q = `
		UPDATE scheduled_notifications
		SET status = 'failed', last_error = $2, updated_at = $3
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, q, id, reason, when); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// ResetStuck returns rows left in sending before the cutoff to pending.
func (s *ScheduledNotificationsStore) ResetStuck(ctx context.Context, before time.Time) (int64, error) {
	const q = `
		UPDATE scheduled_notifications
		SET status = 'pending'
		WHERE status = 'sending' AND updated_at < $1
	`
	tag, err := s.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("reset stuck notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanScheduled(row pgx.Row) (domain.ScheduledNotification, error) {
	var (
		n            domain.ScheduledNotification
		idUUID       pgtype.UUID
		data         []byte
		scheduleTime pgtype.Timestamptz
		status       string
		sentAt       pgtype.Timestamptz
	)
	err := row.Scan(
		&idUUID,
		&n.Token,
		&n.Title,
		&n.Body,
		&data,
		&n.DelaySeconds,
		&scheduleTime,
		&n.FireAt,
		&status,
		&n.LastError,
		&n.CreatedAt,
		&n.UpdatedAt,
		&sentAt,
	)
	if err != nil {
		return domain.ScheduledNotification{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return domain.ScheduledNotification{}, fmt.Errorf("decode notification data: %w", err)
		}
	}
	n.ID = uuidOrEmpty(idUUID)
	n.ScheduleTime = timestamptzPtr(scheduleTime)
	n.Status = domain.NotificationStatus(status)
	n.SentAt = timestamptzPtr(sentAt)
	return n, nil
}

func marshalData(data map[string]any) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode notification data: %w", err)
	}
	return raw, nil
}

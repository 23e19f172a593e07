package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pushscheduler/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationTokensStore struct {
	pool *pgxpool.Pool
}

func NewNotificationTokensStore(pool *pgxpool.Pool) *NotificationTokensStore {
	return &NotificationTokensStore{pool: pool}
}

func (s *NotificationTokensStore) UpsertToken(ctx context.Context, userID, token, platform string, clientTS *time.Time, when time.Time) (domain.NotificationToken, error) {
	const q = `
		INSERT INTO notification_tokens (user_id, token, platform, client_timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (token)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			client_timestamp = EXCLUDED.client_timestamp,
			updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, token, platform, client_timestamp, created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, q, nullIfEmpty(userID), token, platform, clientTS, when)
	out, err := scanNotificationToken(row)
	if err != nil {
		return domain.NotificationToken{}, fmt.Errorf("upsert notification token: %w", err)
	}
	return out, nil
}

func (s *NotificationTokensStore) GetToken(ctx context.Context, token string) (domain.NotificationToken, error) {
	const q = `
		SELECT id, user_id, token, platform, client_timestamp, created_at, updated_at
		FROM notification_tokens
		WHERE token = $1
	`

	out, err := scanNotificationToken(s.pool.QueryRow(ctx, q, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotificationToken{}, domain.ErrNotFound
		}
		return domain.NotificationToken{}, fmt.Errorf("get notification token: %w", err)
	}
	return out, nil
}

func (s *NotificationTokensStore) DeleteToken(ctx context.Context, token string) error {
	const q = `
		DELETE FROM notification_tokens
		WHERE token = $1
	`
	if _, err := s.pool.Exec(ctx, q, token); err != nil {
		return fmt.Errorf("delete notification token: %w", err)
	}
	return nil
}

func scanNotificationToken(row pgx.Row) (domain.NotificationToken, error) {
	var (
		idUUID   pgtype.UUID
		userID   pgtype.Text
		token    string
		platform string
		clientTS pgtype.Timestamptz
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&idUUID, &userID, &token, &platform, &clientTS, &created, &updated); err != nil {
		return domain.NotificationToken{}, err
	}
	return domain.NotificationToken{
		ID:              uuidOrEmpty(idUUID),
		UserID:          textOrEmpty(userID),
		Token:           token,
		Platform:        platform,
		ClientTimestamp: timestamptzPtr(clientTS),
		CreatedAt:       created,
		UpdatedAt:       updated,
	}, nil
}

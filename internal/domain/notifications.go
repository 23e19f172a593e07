package domain

import "time"

type NotificationToken struct {
	ID              string     `json:"-"`
	UserID          string     `json:"user_id,omitempty"`
	Token           string     `json:"token"`
	Platform        string     `json:"platform"`
	ClientTimestamp *time.Time `json:"client_timestamp,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSending   NotificationStatus = "sending"
	StatusSent      NotificationStatus = "sent"
	StatusFailed    NotificationStatus = "failed"
	StatusCancelled NotificationStatus = "cancelled"
)

// ScheduledNotification is a push request accepted by the backend that fires at FireAt.
type ScheduledNotification struct {
	ID           string
	Token        string
	Title        string
	Body         string
	Data         map[string]any
	DelaySeconds int
	ScheduleTime *time.Time
	FireAt       time.Time
	Status       NotificationStatus
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SentAt       *time.Time
}

func (n ScheduledNotification) IsPending() bool { return n.Status == StatusPending }

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pushscheduler/internal/domain"
	"pushscheduler/internal/notifications"
)

const (
	defaultDispatchInterval = time.Second
	defaultDispatchBatch    = 50
	defaultSendTimeout      = 10 * time.Second
	stuckAfter              = 5 * time.Minute
)

// Dispatcher periodically sends scheduled notifications whose fire time has passed.
type Dispatcher struct {
	Scheduled ScheduledNotificationsStore
	Tokens    NotificationTokensStore
	Sender    notifications.Sender
	Logger    *slog.Logger
	Interval  time.Duration
	Batch     int
	Now       func() time.Time

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Start begins the dispatch loop. Rows a previous process left in sending are requeued first.
func (d *Dispatcher) Start(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultDispatchInterval
	}

	if n, err := d.Scheduled.ResetStuck(ctx, d.now().UTC().Add(-stuckAfter)); err != nil {
		d.logger().Error("dispatcher: reset stuck failed", "err", err)
	} else if n > 0 {
		d.logger().Warn("dispatcher: requeued stuck notifications", "count", n)
	}

	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.DispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
					d.logger().Error("dispatcher: tick failed", "err", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// DispatchDue claims one batch of due notifications and sends them. It returns how many
// were delivered.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	batch := d.Batch
	if batch <= 0 {
		batch = defaultDispatchBatch
	}
	due, err := d.Scheduled.ClaimDue(ctx, d.now().UTC(), batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range due {
		if d.dispatchOne(ctx, n) {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, n domain.ScheduledNotification) bool {
	logger := d.logger()
	now := d.now().UTC()
	msg := notifications.Message{
		ID:   n.ID,
		Data: notifications.FlattenData(n.Data),
		Notification: &notifications.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		SentAt: now.Format(time.RFC3339),
	}

	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	err := d.Sender.Send(sendCtx, n.Token, msg)
	cancel()

	if err == nil {
		notificationsDispatched.WithLabelValues("sent").Inc()
		if err := d.Scheduled.MarkSent(ctx, n.ID, now); err != nil {
			logger.Error("dispatcher: mark sent failed", "err", err, "id", n.ID)
		}
		logger.Info("dispatcher: notification sent", "id", n.ID)
		return true
	}

	result := "failed"
	if errors.Is(err, notifications.ErrInvalidToken) {
		result = "invalid_token"
		if d.Tokens != nil {
			if delErr := d.Tokens.DeleteToken(ctx, n.Token); delErr != nil {
				logger.Error("dispatcher: delete invalid token failed", "err", delErr, "id", n.ID)
			}
		}
	}
	notificationsDispatched.WithLabelValues(result).Inc()
	logger.Error("dispatcher: send failed", "err", err, "id", n.ID)
	if markErr := d.Scheduled.MarkFailed(ctx, n.ID, err.Error(), now); markErr != nil {
		logger.Error("dispatcher: mark failed failed", "err", markErr, "id", n.ID)
	}
	return false
}

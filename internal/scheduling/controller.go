// Package scheduling drives the schedule/cancel toggle: it tries a remote push first and
// falls back to a local notification on this device.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pushscheduler/internal/localnotify"
	"pushscheduler/internal/notifications"
	"pushscheduler/internal/pushclient"
)

const (
	DefaultDelay       = 60 * time.Second
	defaultCallTimeout = 10 * time.Second

	NotificationTitle = "Scheduled Notification 🔔"
	NotificationBody  = "You pressed the button 1 minute ago. This arrives even when the app is closed!"

	defaultMessageTitle = "New message"
	defaultMessageBody  = "You have a new message"
)

var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrTokenUnavailable = errors.New("remote token unavailable")
)

type LocalGateway interface {
	PermissionStatus(ctx context.Context) (localnotify.Permission, error)
	RequestPermission(ctx context.Context) (localnotify.Permission, error)
	DeviceToken(ctx context.Context) (string, error)
	Schedule(ctx context.Context, n localnotify.Notification) (string, error)
	CancelAll(ctx context.Context) error
}

type RemoteMessaging interface {
	Token(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) error
	RegisterToken(ctx context.Context, token string) error
	ScheduleNotification(ctx context.Context, req pushclient.ScheduleRequest) (pushclient.ScheduleResponse, error)
	CancelScheduled(ctx context.Context, id string) error
	OnMessage(fn func(notifications.Message)) *pushclient.Subscription
	OnTokenRefresh(fn func(string)) *pushclient.Subscription
	SetBackgroundHandler(fn func(notifications.Message))
}

// Path records which gateway accepted the last schedule request.
type Path string

const (
	PathNone   Path = ""
	PathRemote Path = "remote"
	PathLocal  Path = "local"
)

// State is a snapshot of what the screen shows. Scheduled is what the controller believes,
// not what the gateways report.
type State struct {
	Scheduled   bool
	Path        Path
	FireAt      time.Time
	Permission  localnotify.Permission
	LocalToken  string
	RemoteToken string
}

type Controller struct {
	Local       LocalGateway
	Remote      RemoteMessaging
	Alerts      Alerter
	Logger      *slog.Logger
	CallTimeout time.Duration
	Delay       time.Duration
	Now         func() time.Time

	// OnChange, when set, receives every new state.
	OnChange func(State)

	mu       sync.Mutex
	state    State
	remoteID string
}

func (c *Controller) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Controller) delay() time.Duration {
	if c.Delay <= 0 {
		return DefaultDelay
	}
	return c.Delay
}

func (c *Controller) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Controller) alert(a Alert) {
	if c.Alerts != nil {
		c.Alerts.Alert(a)
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	st := c.state
	c.mu.Unlock()
	if c.OnChange != nil {
		c.OnChange(st)
	}
}

// Init obtains notification permission and both tokens. The permission prompt is bounded
// only by ctx; gateway calls get CallTimeout each. A denied permission is alerted and
// returned as ErrPermissionDenied. A missing remote token is logged and leaves scheduling
// on the local path.
func (c *Controller) Init(ctx context.Context) error {
	logger := c.logger()

	perm, err := c.ensurePermission(ctx)
	c.update(func(s *State) { s.Permission = perm })
	if err != nil {
		return err
	}

	tokenCtx, cancel := c.callCtx(ctx)
	localToken, err := c.Local.DeviceToken(tokenCtx)
	cancel()
	if err != nil {
		logger.Error("scheduling: device token failed", "err", err)
	} else {
		c.update(func(s *State) { s.LocalToken = localToken })
	}

	if c.Remote == nil {
		logger.Info("scheduling: remote messaging not configured")
		return nil
	}

	tokenCtx, cancel = c.callCtx(ctx)
	remoteToken, err := c.Remote.Token(tokenCtx)
	cancel()
	if err != nil || remoteToken == "" {
		logger.Warn("scheduling: remote token unavailable", "err", err)
		return nil
	}
	c.update(func(s *State) { s.RemoteToken = remoteToken })
	c.registerToken(ctx, remoteToken)
	return nil
}

func (c *Controller) ensurePermission(ctx context.Context) (localnotify.Permission, error) {
	statusCtx, cancel := c.callCtx(ctx)
	perm, err := c.Local.PermissionStatus(statusCtx)
	cancel()
	if err != nil {
		c.logger().Error("scheduling: permission status failed", "err", err)
		perm = localnotify.PermissionUndetermined
	}
	if perm != localnotify.PermissionGranted {
		perm, err = c.Local.RequestPermission(ctx)
		if err != nil {
			c.logger().Error("scheduling: permission request failed", "err", err)
		}
	}
	if perm != localnotify.PermissionGranted {
		c.alert(permissionDeniedAlert())
		return perm, ErrPermissionDenied
	}
	return perm, nil
}

// registerToken sends token to the backend once. Failures are logged only.
func (c *Controller) registerToken(ctx context.Context, token string) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.Remote.RegisterToken(callCtx, token); err != nil {
		c.logger().Error("scheduling: token registration failed", "err", err)
		return
	}
	c.logger().Info("scheduling: token registered")
}

// Toggle schedules when idle and cancels when scheduled.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.State().Scheduled {
		return c.Cancel(ctx)
	}
	return c.Schedule(ctx)
}

// Schedule asks the backend to push a notification after the delay when a remote token is
// held, and otherwise (or when that fails) schedules one locally after clearing any
// earlier local notifications.
func (c *Controller) Schedule(ctx context.Context) error {
	logger := c.logger()

	statusCtx, cancel := c.callCtx(ctx)
	perm, err := c.Local.PermissionStatus(statusCtx)
	cancel()
	if err != nil {
		c.logger().Error("scheduling: permission status failed", "err", err)
	}
	if err != nil || perm != localnotify.PermissionGranted {
		if err == nil {
			c.update(func(s *State) { s.Permission = perm })
		}
		c.alert(permissionDeniedAlert())
		return ErrPermissionDenied
	}

	now := c.now()
	delay := c.delay()
	scheduledAt := pushclient.FormatTimestamp(now)
	fireAt := now.Add(delay)

	remoteErr := c.scheduleRemote(ctx, scheduledAt, fireAt, delay)
	if remoteErr == nil {
		c.update(func(s *State) {
			s.Scheduled = true
			s.Path = PathRemote
			s.FireAt = fireAt
		})
		c.alert(scheduledAlert(true, false))
		return nil
	}

	var rejected *pushclient.RejectedError
	permanent := errors.As(remoteErr, &rejected) && rejected.Permanent()
	switch {
	case errors.Is(remoteErr, ErrTokenUnavailable):
		logger.Info("scheduling: remote path unavailable, using local notification", "err", remoteErr)
	case permanent:
		logger.Warn("scheduling: remote schedule rejected, using local notification", "status", rejected.Status, "err", remoteErr)
	default:
		logger.Error("scheduling: remote schedule failed, using local notification", "err", remoteErr)
	}

	if err := c.scheduleLocal(ctx, scheduledAt, delay); err != nil {
		logger.Error("scheduling: local schedule failed", "err", err)
		c.alert(scheduleErrorAlert())
		return fmt.Errorf("schedule notification: %w", errors.Join(remoteErr, err))
	}

	c.update(func(s *State) {
		s.Scheduled = true
		s.Path = PathLocal
		s.FireAt = fireAt
	})
	c.alert(scheduledAlert(false, permanent))
	return nil
}

func (c *Controller) scheduleRemote(ctx context.Context, scheduledAt string, fireAt time.Time, delay time.Duration) error {
	token := c.State().RemoteToken
	if c.Remote == nil || token == "" {
		return ErrTokenUnavailable
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.Remote.ScheduleNotification(callCtx, pushclient.ScheduleRequest{
		Token: token,
		Delay: int(delay / time.Second),
		Notification: pushclient.NotificationPayload{
			Title: NotificationTitle,
			Body:  NotificationBody,
			Data:  map[string]any{"scheduledAt": scheduledAt},
		},
		ScheduleTime: pushclient.FormatTimestamp(fireAt),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteID = resp.ID
	c.mu.Unlock()
	c.logger().Info("scheduling: remote notification scheduled", "id", resp.ID, "fire_at", resp.FireAt)
	return nil
}

func (c *Controller) scheduleLocal(ctx context.Context, scheduledAt string, delay time.Duration) error {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	if err := c.Local.CancelAll(callCtx); err != nil {
		return fmt.Errorf("clear local notifications: %w", err)
	}
	id, err := c.Local.Schedule(callCtx, localnotify.Notification{
		Title: NotificationTitle,
		Body:  NotificationBody,
		Data:  map[string]any{"scheduledAt": scheduledAt, "type": "fallback"},
		Delay: delay,
	})
	if err != nil {
		return err
	}
	c.logger().Info("scheduling: local notification scheduled", "id", id)
	return nil
}

// Cancel clears every pending local notification and returns to idle. When the local
// gateway fails the state is left scheduled and an error alert is raised. A remote
// notification accepted earlier is withdrawn best-effort.
func (c *Controller) Cancel(ctx context.Context) error {
	logger := c.logger()

	callCtx, cancel := c.callCtx(ctx)
	err := c.Local.CancelAll(callCtx)
	cancel()
	if err != nil {
		logger.Error("scheduling: cancel local notifications failed", "err", err)
		c.alert(cancelErrorAlert())
		return fmt.Errorf("cancel notification: %w", err)
	}

	c.mu.Lock()
	remoteID := c.remoteID
	c.remoteID = ""
	c.mu.Unlock()
	if remoteID != "" && c.Remote != nil {
		callCtx, cancel := c.callCtx(ctx)
		if rerr := c.Remote.CancelScheduled(callCtx, remoteID); rerr != nil {
			logger.Warn("scheduling: remote cancel failed", "err", rerr, "id", remoteID)
		}
		cancel()
	}

	c.update(func(s *State) {
		s.Scheduled = false
		s.Path = PathNone
		s.FireAt = time.Time{}
	})
	c.alert(cancelledAlert())
	return nil
}

// RotateToken asks the remote gateway for a new token. The refresh listener installed by
// Attach registers it.
func (c *Controller) RotateToken(ctx context.Context) error {
	if c.Remote == nil {
		return ErrTokenUnavailable
	}
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.Remote.RefreshToken(callCtx)
}

// Session holds the listeners registered for one screen. Close releases them.
type Session struct {
	subs []*pushclient.Subscription
}

func (s *Session) Close() {
	if s == nil {
		return
	}
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
}

// Attach registers the foreground message and token refresh listeners.
func (c *Controller) Attach(ctx context.Context) *Session {
	if c.Remote == nil {
		return &Session{}
	}
	onMessage := c.Remote.OnMessage(func(msg notifications.Message) {
		title, body := messageText(msg)
		c.logger().Info("scheduling: foreground message", "id", msg.ID)
		c.alert(Alert{Kind: AlertMessage, Title: title, Message: body})
	})
	onToken := c.Remote.OnTokenRefresh(func(token string) {
		c.logger().Info("scheduling: remote token refreshed")
		c.update(func(s *State) { s.RemoteToken = token })
		c.registerToken(ctx, token)
	})
	return &Session{subs: []*pushclient.Subscription{onMessage, onToken}}
}

// InstallBackgroundHandler turns messages received while no screen is in the foreground
// into immediate local notifications.
func (c *Controller) InstallBackgroundHandler(ctx context.Context) {
	if c.Remote == nil {
		return
	}
	c.Remote.SetBackgroundHandler(func(msg notifications.Message) {
		title, body := messageText(msg)
		data := make(map[string]any, len(msg.Data))
		for k, v := range msg.Data {
			data[k] = v
		}
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		if _, err := c.Local.Schedule(callCtx, localnotify.Notification{Title: title, Body: body, Data: data}); err != nil {
			c.logger().Error("scheduling: background notification failed", "err", err, "id", msg.ID)
			return
		}
		c.logger().Info("scheduling: background message shown", "id", msg.ID)
	})
}

func messageText(msg notifications.Message) (string, string) {
	title, body := defaultMessageTitle, defaultMessageBody
	if msg.Notification != nil {
		if msg.Notification.Title != "" {
			title = msg.Notification.Title
		}
		if msg.Notification.Body != "" {
			body = msg.Notification.Body
		}
	}
	return title, body
}

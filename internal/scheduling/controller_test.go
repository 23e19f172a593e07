package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"pushscheduler/internal/localnotify"
	"pushscheduler/internal/notifications"
	"pushscheduler/internal/pushclient"
)

type stubLocal struct {
	mu sync.Mutex

	permission  localnotify.Permission
	grantOnAsk  bool
	requests    int
	scheduleErr error
	cancelErr   error

	pending   []localnotify.Notification
	scheduled []localnotify.Notification
	cancels   int
}

func (s *stubLocal) PermissionStatus(context.Context) (localnotify.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

func (s *stubLocal) RequestPermission(context.Context) (localnotify.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.grantOnAsk {
		s.permission = localnotify.PermissionGranted
	} else {
		s.permission = localnotify.PermissionDenied
	}
	return s.permission, nil
}

func (s *stubLocal) DeviceToken(context.Context) (string, error) {
	return "device:1", nil
}

func (s *stubLocal) Schedule(_ context.Context, n localnotify.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduleErr != nil {
		return "", s.scheduleErr
	}
	s.pending = append(s.pending, n)
	s.scheduled = append(s.scheduled, n)
	return "local-1", nil
}

func (s *stubLocal) CancelAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.pending = nil
	return nil
}

type stubRemote struct {
	mu sync.Mutex

	token       string
	tokenErr    error
	registered  []string
	registerErr error
	scheduleErr error
	hang        bool
	requests    []pushclient.ScheduleRequest
	cancelled   []string
	refreshes   int

	onMessage  func(notifications.Message)
	onToken    func(string)
	background func(notifications.Message)
	closed     int
}

func (r *stubRemote) Token(context.Context) (string, error) { return r.token, r.tokenErr }

func (r *stubRemote) RefreshToken(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return nil
}

func (r *stubRemote) RegisterToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, token)
	return r.registerErr
}

func (r *stubRemote) ScheduleNotification(ctx context.Context, req pushclient.ScheduleRequest) (pushclient.ScheduleResponse, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	hang := r.hang
	r.mu.Unlock()
	if hang {
		<-ctx.Done()
		return pushclient.ScheduleResponse{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduleErr != nil {
		return pushclient.ScheduleResponse{}, r.scheduleErr
	}
	return pushclient.ScheduleResponse{ID: "remote-1", Status: "pending"}, nil
}

func (r *stubRemote) CancelScheduled(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
	return nil
}

func (r *stubRemote) OnMessage(fn func(notifications.Message)) *pushclient.Subscription {
	r.onMessage = fn
	return pushclient.NewSubscription(func() { r.closed++ })
}

func (r *stubRemote) OnTokenRefresh(fn func(string)) *pushclient.Subscription {
	r.onToken = fn
	return pushclient.NewSubscription(func() { r.closed++ })
}

func (r *stubRemote) SetBackgroundHandler(fn func(notifications.Message)) { r.background = fn }

type alertLog struct {
	mu     sync.Mutex
	alerts []Alert
}

func (l *alertLog) Alert(a Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
}

func (l *alertLog) kinds() []AlertKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AlertKind, 0, len(l.alerts))
	for _, a := range l.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func (l *alertLog) last() Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.alerts) == 0 {
		return Alert{}
	}
	return l.alerts[len(l.alerts)-1]
}

func fixedNow() time.Time {
	return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
}

func newController(local *stubLocal, remote *stubRemote) (*Controller, *alertLog) {
	alerts := &alertLog{}
	c := &Controller{
		Local:  local,
		Alerts: alerts,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    fixedNow,
	}
	if remote != nil {
		c.Remote = remote
	}
	return c, alerts
}

func grantedLocal() *stubLocal {
	return &stubLocal{permission: localnotify.PermissionGranted}
}

func TestCancelWhenIdleIsHarmless(t *testing.T) {
	local := grantedLocal()
	c, _ := newController(local, nil)

	for i := 0; i < 2; i++ {
		if err := c.Cancel(context.Background()); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
	}
	if c.State().Scheduled {
		t.Fatalf("state must stay idle")
	}
	if local.cancels != 2 {
		t.Fatalf("expected 2 local cancels, got %d", local.cancels)
	}
}

func TestCancelFailureKeepsScheduled(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:abc"}
	c, alerts := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.Schedule(ctx); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	local.cancelErr = errors.New("gateway down")
	if err := c.Cancel(ctx); err == nil {
		t.Fatalf("expected cancel error")
	}
	st := c.State()
	if !st.Scheduled || st.Path != PathRemote {
		t.Fatalf("state must stay scheduled after a failed cancel, got %+v", st)
	}
	if got := alerts.last(); got.Kind != AlertCancelError {
		t.Fatalf("unexpected alert: %+v", got)
	}
	for _, k := range alerts.kinds() {
		if k == AlertCancelled {
			t.Fatalf("cancelled alert must not be shown, got %v", alerts.kinds())
		}
	}
	if len(remote.cancelled) != 0 {
		t.Fatalf("remote notification must not be withdrawn, got %v", remote.cancelled)
	}

	// Once the gateway recovers the same toggle cancels both.
	local.cancelErr = nil
	if err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if c.State().Scheduled || alerts.last().Kind != AlertCancelled {
		t.Fatalf("expected idle with cancelled alert, got %+v %+v", c.State(), alerts.last())
	}
	if len(remote.cancelled) != 1 || remote.cancelled[0] != "remote-1" {
		t.Fatalf("expected remote withdrawal, got %v", remote.cancelled)
	}
}

func TestRepeatedLocalScheduleKeepsOneOutstanding(t *testing.T) {
	local := grantedLocal()
	c, _ := newController(local, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.Toggle(ctx); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		if !c.State().Scheduled {
			t.Fatalf("expected scheduled after toggle %d", i)
		}
		if len(local.pending) != 1 {
			t.Fatalf("expected one pending local notification, got %d", len(local.pending))
		}
		if err := c.Toggle(ctx); err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
	}

	// Two schedules without a cancel in between.
	_ = c.Schedule(ctx)
	_ = c.Schedule(ctx)
	if len(local.pending) != 1 {
		t.Fatalf("expected one pending local notification, got %d", len(local.pending))
	}
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:abc", scheduleErr: errors.New("connection refused")}
	c, alerts := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.Schedule(ctx); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	st := c.State()
	if !st.Scheduled || st.Path != PathLocal {
		t.Fatalf("unexpected state: %+v", st)
	}
	if len(remote.requests) != 1 {
		t.Fatalf("expected one remote attempt, got %d", len(remote.requests))
	}
	if len(local.scheduled) != 1 {
		t.Fatalf("expected one local schedule, got %d", len(local.scheduled))
	}
	n := local.scheduled[0]
	if n.Data["type"] != "fallback" || n.Data["scheduledAt"] != "2026-10-19T10:00:00.000Z" || n.Delay != 60*time.Second {
		t.Fatalf("unexpected local notification: %+v", n)
	}
	if local.cancels != 1 {
		t.Fatalf("local schedule must clear earlier notifications first")
	}
	if alerts.last().Kind != AlertScheduledLocal {
		t.Fatalf("unexpected alert: %+v", alerts.last())
	}
}

func TestHungRemoteTimesOutAndFallsBack(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:abc", hang: true}
	c, alerts := newController(local, remote)
	c.CallTimeout = 50 * time.Millisecond
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Schedule(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Schedule did not return while the remote gateway hung")
	}

	st := c.State()
	if !st.Scheduled || st.Path != PathLocal {
		t.Fatalf("expected local fallback, got %+v", st)
	}
	if got := alerts.last(); got.Kind != AlertScheduledLocal {
		t.Fatalf("unexpected alert: %+v", got)
	}
	if len(local.pending) != 1 {
		t.Fatalf("expected one pending local notification, got %d", len(local.pending))
	}
}

func TestRemoteRejectionIsReportedDistinctly(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:abc", scheduleErr: &pushclient.RejectedError{Status: http.StatusBadRequest}}
	c, alerts := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.Schedule(ctx); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got := alerts.last()
	if got.Kind != AlertScheduledLocal || got.Message == scheduledAlert(false, false).Message {
		t.Fatalf("expected rejection-specific local alert, got %+v", got)
	}
	if len(remote.registered) != 1 || remote.registered[0] != "relay:abc" {
		t.Fatalf("token must stay registered, got %v", remote.registered)
	}
}

func TestScheduleWithoutTokenUsesLocal(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{tokenErr: errors.New("no token")}
	c, _ := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.Schedule(ctx); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(remote.requests) != 0 {
		t.Fatalf("remote must not be called without a token")
	}
	if c.State().Path != PathLocal {
		t.Fatalf("expected local path, got %q", c.State().Path)
	}
}

func TestTotalFailureStaysIdle(t *testing.T) {
	local := grantedLocal()
	local.scheduleErr = errors.New("os refused")
	remote := &stubRemote{token: "relay:abc", scheduleErr: errors.New("timeout")}
	c, alerts := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.Schedule(ctx); err == nil {
		t.Fatalf("expected error")
	}
	if c.State().Scheduled {
		t.Fatalf("state must stay idle")
	}
	if alerts.last().Kind != AlertScheduleError {
		t.Fatalf("unexpected alert: %+v", alerts.last())
	}
}

func TestPermissionDeniedBlocksScheduling(t *testing.T) {
	local := &stubLocal{permission: localnotify.PermissionUndetermined, grantOnAsk: false}
	remote := &stubRemote{token: "relay:abc"}
	c, alerts := newController(local, remote)
	ctx := context.Background()

	if err := c.Init(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if local.requests != 1 {
		t.Fatalf("expected one permission prompt, got %d", local.requests)
	}
	st := c.State()
	if st.LocalToken != "" || st.RemoteToken != "" {
		t.Fatalf("no token may be produced without permission: %+v", st)
	}

	if err := c.Schedule(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if len(remote.requests) != 0 || len(local.scheduled) != 0 {
		t.Fatalf("no schedule call may be attempted: remote=%d local=%d", len(remote.requests), len(local.scheduled))
	}
	if c.State().Scheduled {
		t.Fatalf("state must stay idle")
	}
	for _, k := range alerts.kinds() {
		if k != AlertPermissionDenied {
			t.Fatalf("unexpected alert kind %s", k)
		}
	}
}

func TestInitGrantedSkipsPrompt(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:abc"}
	c, _ := newController(local, remote)

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if local.requests != 0 {
		t.Fatalf("granted permission must not prompt")
	}
	st := c.State()
	if st.LocalToken != "device:1" || st.RemoteToken != "relay:abc" || st.Permission != localnotify.PermissionGranted {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestTokenRefreshReregistersNewValue(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:old"}
	c, _ := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	session := c.Attach(ctx)
	defer session.Close()

	remote.onToken("relay:new")

	if got := remote.registered; len(got) != 2 || got[1] != "relay:new" {
		t.Fatalf("expected re-registration with new token, got %v", got)
	}
	if c.State().RemoteToken != "relay:new" {
		t.Fatalf("state not updated: %+v", c.State())
	}

	if err := c.Schedule(ctx); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if remote.requests[0].Token != "relay:new" {
		t.Fatalf("schedule must use refreshed token, got %s", remote.requests[0].Token)
	}
}

func TestScheduleRemoteThenCancel(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{token: "relay:abc"}
	c, alerts := newController(local, remote)
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if len(remote.requests) != 1 {
		t.Fatalf("expected one remote request, got %d", len(remote.requests))
	}
	req := remote.requests[0]
	if req.Delay != 60 || req.Token != "relay:abc" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Notification.Data["scheduledAt"] != "2026-10-19T10:00:00.000Z" || req.ScheduleTime != "2026-10-19T10:01:00.000Z" {
		t.Fatalf("unexpected timestamps: %+v", req)
	}
	if len(local.scheduled) != 0 {
		t.Fatalf("local path must not run after remote success")
	}
	st := c.State()
	if !st.Scheduled || st.Path != PathRemote || !st.FireAt.Equal(fixedNow().Add(time.Minute)) {
		t.Fatalf("unexpected state: %+v", st)
	}
	if alerts.last().Kind != AlertScheduledRemote {
		t.Fatalf("unexpected alert: %+v", alerts.last())
	}

	local.cancels = 0
	if err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if local.cancels != 1 {
		t.Fatalf("expected one local cancel, got %d", local.cancels)
	}
	if c.State().Scheduled {
		t.Fatalf("expected idle after cancel")
	}
	if len(remote.cancelled) != 1 || remote.cancelled[0] != "remote-1" {
		t.Fatalf("expected remote withdrawal, got %v", remote.cancelled)
	}
}

func TestForegroundMessageAlertsAndSessionCloses(t *testing.T) {
	remote := &stubRemote{token: "relay:abc"}
	c, alerts := newController(grantedLocal(), remote)
	session := c.Attach(context.Background())

	remote.onMessage(notifications.Message{ID: "m1", Notification: &notifications.Notification{Title: "Hi", Body: "there"}})
	remote.onMessage(notifications.Message{ID: "m2"})

	got := alerts.alerts
	if len(got) != 2 || got[0].Title != "Hi" || got[1].Title != defaultMessageTitle || got[1].Message != defaultMessageBody {
		t.Fatalf("unexpected alerts: %+v", got)
	}

	session.Close()
	session.Close()
	if remote.closed != 2 {
		t.Fatalf("expected both subscriptions closed once, got %d", remote.closed)
	}
}

func TestBackgroundMessageBecomesImmediateLocalNotification(t *testing.T) {
	local := grantedLocal()
	remote := &stubRemote{}
	c, _ := newController(local, remote)
	c.InstallBackgroundHandler(context.Background())
	if remote.background == nil {
		t.Fatalf("background handler not installed")
	}

	remote.background(notifications.Message{
		ID:           "m1",
		Notification: &notifications.Notification{Title: "Scheduled Notification"},
		Data:         map[string]string{"scheduledAt": "2026-10-19T10:00:00.000Z"},
	})

	if len(local.scheduled) != 1 {
		t.Fatalf("expected one local notification, got %d", len(local.scheduled))
	}
	n := local.scheduled[0]
	if n.Delay != 0 || n.Title != "Scheduled Notification" || n.Body != defaultMessageBody || n.Data["scheduledAt"] != "2026-10-19T10:00:00.000Z" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestRotateTokenWithoutRemote(t *testing.T) {
	c, _ := newController(grantedLocal(), nil)
	if err := c.RotateToken(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("expected ErrTokenUnavailable, got %v", err)
	}
}

func TestOnChangeReceivesState(t *testing.T) {
	c, _ := newController(grantedLocal(), nil)
	var states []State
	c.OnChange = func(s State) { states = append(states, s) }

	if err := c.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(states) == 0 || !states[len(states)-1].Scheduled {
		t.Fatalf("expected scheduled state change, got %+v", states)
	}
}

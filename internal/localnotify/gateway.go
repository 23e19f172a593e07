// Package localnotify is the device-local notification gateway: permission state, a
// stable device token and delayed notifications delivered through the desktop notifier.
package localnotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"
)

type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

const deviceTokenPrefix = "device:"

var ErrPermissionDenied = errors.New("notification permission not granted")

// Notification is a local notification request. Delay is truncated to whole seconds.
type Notification struct {
	Title string
	Body  string
	Data  map[string]any
	Delay time.Duration
}

// Prompter asks the user whether notifications may be shown.
type Prompter interface {
	PromptPermission(ctx context.Context) (bool, error)
}

// Presenter shows a notification that has come due.
type Presenter interface {
	Present(id string, n Notification) error
}

type PresenterFunc func(id string, n Notification) error

func (f PresenterFunc) Present(id string, n Notification) error { return f(id, n) }

type beeepPresenter struct{}

func (beeepPresenter) Present(_ string, n Notification) error {
	return beeep.Notify(n.Title, n.Body, "")
}

type Options struct {
	StatePath string
	Prompter  Prompter
	Presenter Presenter
	Logger    *slog.Logger
}

type Gateway struct {
	path      string
	prompter  Prompter
	presenter Presenter
	logger    *slog.Logger

	mu     sync.Mutex
	state  state
	timers map[string]*time.Timer
}

func Open(opts Options) (*Gateway, error) {
	if opts.StatePath == "" {
		return nil, errors.New("localnotify: state path required")
	}
	st, err := loadState(opts.StatePath)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		path:      opts.StatePath,
		prompter:  opts.Prompter,
		presenter: opts.Presenter,
		logger:    opts.Logger,
		state:     st,
		timers:    make(map[string]*time.Timer),
	}
	if g.presenter == nil {
		g.presenter = beeepPresenter{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// SetPrompter replaces the permission prompter. The terminal screen installs one once it
// is running.
func (g *Gateway) SetPrompter(p Prompter) {
	g.mu.Lock()
	g.prompter = p
	g.mu.Unlock()
}

func (g *Gateway) PermissionStatus(context.Context) (Permission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Permission, nil
}

// RequestPermission asks the user unless permission is already granted and persists the
// answer. Without a prompter the current status is returned unchanged.
func (g *Gateway) RequestPermission(ctx context.Context) (Permission, error) {
	g.mu.Lock()
	current := g.state.Permission
	prompter := g.prompter
	g.mu.Unlock()

	if current == PermissionGranted || prompter == nil {
		return current, nil
	}

	ok, err := prompter.PromptPermission(ctx)
	if err != nil {
		return current, fmt.Errorf("prompt permission: %w", err)
	}
	next := PermissionDenied
	if ok {
		next = PermissionGranted
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state
	st.Permission = next
	if err := saveState(g.path, st); err != nil {
		return current, err
	}
	g.state = st
	g.logger.Info("localnotify: permission updated", "permission", next)
	return next, nil
}

// DeviceToken returns the persisted device identifier, creating it on first use.
func (g *Gateway) DeviceToken(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Permission != PermissionGranted {
		return "", ErrPermissionDenied
	}
	if g.state.DeviceToken != "" {
		return g.state.DeviceToken, nil
	}
	st := g.state
	st.DeviceToken = deviceTokenPrefix + uuid.NewString()
	if err := saveState(g.path, st); err != nil {
		return "", err
	}
	g.state = st
	return st.DeviceToken, nil
}

// Schedule arms a timer that presents n after n.Delay and returns its identifier. A zero
// delay presents immediately.
func (g *Gateway) Schedule(_ context.Context, n Notification) (string, error) {
	if n.Delay < 0 {
		return "", fmt.Errorf("localnotify: negative delay %s", n.Delay)
	}
	n.Delay = n.Delay.Truncate(time.Second)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Permission != PermissionGranted {
		return "", ErrPermissionDenied
	}

	id := uuid.NewString()
	g.timers[id] = time.AfterFunc(n.Delay, func() { g.fire(id, n) })
	g.logger.Debug("localnotify: scheduled", "id", id, "delay", n.Delay)
	return id, nil
}

func (g *Gateway) fire(id string, n Notification) {
	g.mu.Lock()
	_, armed := g.timers[id]
	delete(g.timers, id)
	presenter := g.presenter
	g.mu.Unlock()

	if !armed {
		return
	}
	if err := presenter.Present(id, n); err != nil {
		g.logger.Error("localnotify: present failed", "err", err, "id", id)
		return
	}
	g.logger.Info("localnotify: presented", "id", id, "title", n.Title)
}

// CancelAll drops every notification that has not been presented yet.
func (g *Gateway) CancelAll(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
	return nil
}

func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pushscheduler/internal/localnotify"
	"pushscheduler/internal/scheduling"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func setupTest(t *testing.T) {
	t.Helper()
	lipgloss.SetColorProfile(termenv.Ascii)
}

type stubController struct {
	state     scheduling.State
	initErr   error
	toggles   int
	rotateErr error
	attached  int
}

func (c *stubController) State() scheduling.State { return c.state }

func (c *stubController) Init(context.Context) error { return c.initErr }

func (c *stubController) Toggle(context.Context) error {
	c.toggles++
	c.state.Scheduled = !c.state.Scheduled
	return nil
}

func (c *stubController) RotateToken(context.Context) error { return c.rotateErr }

func (c *stubController) Attach(context.Context) *scheduling.Session {
	c.attached++
	return &scheduling.Session{}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestScreenInitialView(t *testing.T) {
	setupTest(t)
	ctrl := &stubController{}
	s := NewScreen(context.Background(), ctrl, nil)

	cmd := s.Init()
	if cmd == nil || ctrl.attached != 1 {
		t.Fatalf("Init must attach listeners and return a command")
	}

	view := s.View()
	for _, want := range []string{"Push Notification Test", "Send notification in 1 minute", "Push token: loading..."} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	s.Update(cmd())
	s.Update(stateMsg(scheduling.State{LocalToken: "device:1", Permission: localnotify.PermissionGranted}))
	if !strings.Contains(s.View(), "Push token: received ✅") {
		t.Fatalf("expected received token:\n%s", s.View())
	}
}

func TestScreenToggleRunsControllerAndFlipsButton(t *testing.T) {
	setupTest(t)
	ctrl := &stubController{}
	s := NewScreen(context.Background(), ctrl, nil)

	_, cmd := s.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected toggle command")
	}
	if _, again := s.Update(tea.KeyMsg{Type: tea.KeyEnter}); again != nil {
		t.Fatalf("toggle must be ignored while busy")
	}

	s.Update(cmd())
	if ctrl.toggles != 1 {
		t.Fatalf("expected one toggle, got %d", ctrl.toggles)
	}
	view := s.View()
	if !strings.Contains(view, "Cancel notification") || !strings.Contains(view, "Notification scheduled!") {
		t.Fatalf("expected scheduled view:\n%s", view)
	}
}

func TestScreenAlertBlocksUntilDismissed(t *testing.T) {
	setupTest(t)
	ctrl := &stubController{}
	s := NewScreen(context.Background(), ctrl, nil)

	s.Update(alertMsg(scheduling.Alert{Kind: scheduling.AlertCancelled, Title: "Cancelled", Message: "The scheduled notification was cancelled."}))
	if !strings.Contains(s.View(), "The scheduled notification was cancelled.") {
		t.Fatalf("alert not shown:\n%s", s.View())
	}

	if _, cmd := s.Update(keyRunes("r")); cmd != nil {
		t.Fatalf("keys other than dismiss must be swallowed by the alert")
	}
	s.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if strings.Contains(s.View(), "Cancelled") {
		t.Fatalf("alert not dismissed:\n%s", s.View())
	}
}

func TestScreenPermissionPrompt(t *testing.T) {
	setupTest(t)
	s := NewScreen(context.Background(), &stubController{}, nil)

	reply := make(chan bool, 1)
	s.Update(promptMsg{reply: reply})
	if !strings.Contains(s.View(), "Allow notifications?") {
		t.Fatalf("prompt not shown:\n%s", s.View())
	}

	s.Update(keyRunes("y"))
	select {
	case ok := <-reply:
		if !ok {
			t.Fatalf("expected allow")
		}
	default:
		t.Fatalf("prompt not answered")
	}
	if strings.Contains(s.View(), "Allow notifications?") {
		t.Fatalf("prompt still shown")
	}
}

func TestScreenQuitDeniesPendingPrompt(t *testing.T) {
	setupTest(t)
	s := NewScreen(context.Background(), &stubController{}, nil)
	reply := make(chan bool, 1)
	s.Update(promptMsg{reply: reply})

	_, cmd := s.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	if ok := <-reply; ok {
		t.Fatalf("quitting must deny the prompt")
	}
}

func TestScreenRotateFailureAlerts(t *testing.T) {
	setupTest(t)
	ctrl := &stubController{rotateErr: errors.New("relay closed")}
	s := NewScreen(context.Background(), ctrl, nil)

	_, cmd := s.Update(keyRunes("r"))
	if cmd == nil {
		t.Fatalf("expected rotate command")
	}
	s.Update(cmd())
	if !strings.Contains(s.View(), "Could not rotate the push token.") {
		t.Fatalf("expected rotate error alert:\n%s", s.View())
	}
}

func TestScreenDeniedPermissionShowsUnavailable(t *testing.T) {
	setupTest(t)
	ctrl := &stubController{
		state:   scheduling.State{Permission: localnotify.PermissionDenied},
		initErr: scheduling.ErrPermissionDenied,
	}
	s := NewScreen(context.Background(), ctrl, nil)
	s.Update(initDoneMsg{err: ctrl.initErr})
	if !strings.Contains(s.View(), "Push token: unavailable") {
		t.Fatalf("expected unavailable token:\n%s", s.View())
	}
}

func TestBridgePromptAfterClose(t *testing.T) {
	b := NewBridge()
	b.Close()
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.PromptPermission(ctx); !errors.Is(err, ErrScreenClosed) {
		t.Fatalf("expected ErrScreenClosed, got %v", err)
	}
	b.Alert(scheduling.Alert{Title: "ignored"})
}

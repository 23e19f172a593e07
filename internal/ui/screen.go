// Package ui renders the demo screen: one button that schedules a notification a minute
// out or cancels it, plus the blocking alert and permission dialogs.
package ui

import (
	"context"
	"strings"

	"pushscheduler/internal/localnotify"
	"pushscheduler/internal/scheduling"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controller is the part of scheduling.Controller the screen drives.
type Controller interface {
	State() scheduling.State
	Init(ctx context.Context) error
	Toggle(ctx context.Context) error
	RotateToken(ctx context.Context) error
	Attach(ctx context.Context) *scheduling.Session
}

type Screen struct {
	ctx     context.Context
	ctrl    Controller
	styles  *Styles
	keys    keyMap
	session *scheduling.Session

	state   scheduling.State
	alerts  []scheduling.Alert
	prompt  chan<- bool
	busy    bool
	ready   bool
	initErr error
	width   int
}

func NewScreen(ctx context.Context, ctrl Controller, styles *Styles) *Screen {
	if styles == nil {
		styles = NewStyles()
	}
	return &Screen{
		ctx:    ctx,
		ctrl:   ctrl,
		styles: styles,
		keys:   defaultKeyMap(),
		state:  ctrl.State(),
	}
}

// Init registers the message listeners and starts permission and token acquisition.
func (s *Screen) Init() tea.Cmd {
	s.session = s.ctrl.Attach(s.ctx)
	return func() tea.Msg {
		return initDoneMsg{err: s.ctrl.Init(s.ctx)}
	}
}

// Close releases the listeners registered by Init.
func (s *Screen) Close() {
	s.session.Close()
	s.session = nil
}

func (s *Screen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		return s, nil

	case stateMsg:
		s.state = scheduling.State(msg)
		return s, nil

	case alertMsg:
		s.alerts = append(s.alerts, scheduling.Alert(msg))
		return s, nil

	case promptMsg:
		s.prompt = msg.reply
		return s, nil

	case initDoneMsg:
		s.ready = true
		s.initErr = msg.err
		s.state = s.ctrl.State()
		return s, nil

	case toggleDoneMsg:
		s.busy = false
		s.state = s.ctrl.State()
		return s, nil

	case rotateDoneMsg:
		s.state = s.ctrl.State()
		if msg.err != nil {
			s.alerts = append(s.alerts, scheduling.Alert{
				Kind:    scheduling.AlertScheduleError,
				Title:   "Error",
				Message: "Could not rotate the push token.",
			})
		}
		return s, nil

	case tea.KeyMsg:
		return s.handleKey(msg)
	}
	return s, nil
}

func (s *Screen) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		s.answerPrompt(false)
		return s, tea.Quit
	}

	if s.prompt != nil {
		switch {
		case key.Matches(msg, s.keys.Yes):
			s.answerPrompt(true)
		case key.Matches(msg, s.keys.No):
			s.answerPrompt(false)
		}
		return s, nil
	}

	if len(s.alerts) > 0 {
		if key.Matches(msg, s.keys.Dismiss) {
			s.alerts = s.alerts[1:]
		}
		return s, nil
	}

	switch {
	case key.Matches(msg, s.keys.Quit):
		return s, tea.Quit
	case key.Matches(msg, s.keys.Toggle):
		if s.busy {
			return s, nil
		}
		s.busy = true
		return s, func() tea.Msg {
			return toggleDoneMsg{err: s.ctrl.Toggle(s.ctx)}
		}
	case key.Matches(msg, s.keys.Rotate):
		return s, func() tea.Msg {
			return rotateDoneMsg{err: s.ctrl.RotateToken(s.ctx)}
		}
	}
	return s, nil
}

func (s *Screen) answerPrompt(ok bool) {
	if s.prompt == nil {
		return
	}
	s.prompt <- ok
	s.prompt = nil
}

func (s *Screen) View() string {
	if s.prompt != nil {
		return s.renderModal(s.styles.ModalTitle.Render("Allow notifications?"),
			"Push Notification Test would like to send you notifications.",
			helpLine(s.keys.Yes, s.keys.No))
	}
	if len(s.alerts) > 0 {
		a := s.alerts[0]
		title := s.styles.ModalTitle
		switch a.Kind {
		case scheduling.AlertScheduleError, scheduling.AlertCancelError, scheduling.AlertPermissionDenied:
			title = s.styles.ModalTitleWarn
		}
		return s.renderModal(title.Render(a.Title), a.Message, helpLine(s.keys.Dismiss))
	}

	var b strings.Builder
	b.WriteString(s.styles.Title.Render("Push Notification Test"))
	b.WriteString("\n")
	b.WriteString(s.styles.Description.Render("You will get a notification 1 minute after pressing the button.\nIt still arrives after you close the app."))
	b.WriteString("\n")

	label := "Send notification in 1 minute"
	button := s.styles.Button
	if s.state.Scheduled {
		label = "Cancel notification"
		button = s.styles.ButtonCancel
	}
	if s.busy {
		label += " ..."
	}
	b.WriteString(button.Render(label))
	b.WriteString("\n\n")

	if s.state.Scheduled {
		status := "✅ Notification scheduled! It arrives in 1 minute."
		if s.state.Path == scheduling.PathLocal {
			status += " (on this device)"
		}
		b.WriteString(s.styles.Status.Render(status))
		b.WriteString("\n")
	}

	b.WriteString(s.styles.Token.Render("Push token: " + s.tokenStatus()))
	b.WriteString("\n")
	if s.state.RemoteToken != "" {
		b.WriteString(s.styles.Token.Render("Remote token: " + s.state.RemoteToken))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(s.styles.Help.Render(helpLine(s.keys.Toggle, s.keys.Rotate, s.keys.Quit)))
	return b.String()
}

func (s *Screen) tokenStatus() string {
	switch {
	case s.state.LocalToken != "":
		return "received ✅"
	case s.ready && s.state.Permission == localnotify.PermissionDenied:
		return "unavailable"
	case s.ready && s.initErr != nil:
		return "unavailable"
	default:
		return "loading..."
	}
}

func (s *Screen) renderModal(title, body, help string) string {
	width := 50
	if s.width > 0 && s.width-4 < width {
		width = s.width - 4
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		lipgloss.NewStyle().Width(width).Render(body),
		"",
		s.styles.Help.Render(help),
	)
	return s.styles.Modal.Render(content)
}

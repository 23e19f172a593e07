package ui

import (
	"context"
	"errors"
	"sync"

	"pushscheduler/internal/scheduling"

	tea "github.com/charmbracelet/bubbletea"
)

var ErrScreenClosed = errors.New("screen closed")

// Bridge delivers controller callbacks into the running program. It is the controller's
// Alerter and the local gateway's permission Prompter.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

func NewBridge() *Bridge {
	return &Bridge{done: make(chan struct{})}
}

func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
}

// Close detaches the program. Pending prompts return ErrScreenClosed.
func (b *Bridge) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.program = nil
		b.mu.Unlock()
		close(b.done)
	})
}

func (b *Bridge) send(msg tea.Msg) bool {
	b.mu.Lock()
	p := b.program
	b.mu.Unlock()
	if p == nil {
		return false
	}
	p.Send(msg)
	return true
}

func (b *Bridge) Alert(a scheduling.Alert) {
	b.send(alertMsg(a))
}

func (b *Bridge) StateChanged(st scheduling.State) {
	b.send(stateMsg(st))
}

func (b *Bridge) PromptPermission(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	if !b.send(promptMsg{reply: reply}) {
		return false, ErrScreenClosed
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-b.done:
		return false, ErrScreenClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

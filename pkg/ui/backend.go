package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/catalog-chat/pkg/chatclient"
)

// TurnFinishedMsg is delivered once a turn started by ControllerBackend resolved.
type TurnFinishedMsg struct {
	Sent bool
}

// ControllerBackend runs chat turns against a chatclient.Controller off the
// bubbletea event loop.
type ControllerBackend struct {
	controller *chatclient.Controller

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewControllerBackend(c *chatclient.Controller) *ControllerBackend {
	return &ControllerBackend{controller: c}
}

// Start returns a command that sends text and blocks until the turn resolved.
func (b *ControllerBackend) Start(ctx context.Context, text string) (tea.Cmd, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil, errors.New("a turn is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	return func() tea.Msg {
		sent := b.controller.SendTurn(ctx, text)

		b.mu.Lock()
		b.running = false
		b.cancel = nil
		b.mu.Unlock()
		cancel()

		return TurnFinishedMsg{Sent: sent}
	}, nil
}

// Interrupt cancels the running turn. The controller then records the
// generic failure message.
func (b *ControllerBackend) Interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	} else {
		log.Debug().Msg("no turn is running")
	}
}

func (b *ControllerBackend) IsFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.running
}

package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

// errNoTerminal marks a stream that closed before end or error arrived.
var errNoTerminal = errors.New("stream closed without a terminal event")

// Controller owns one Session and drives the View. All session mutations
// happen under mu and are followed by a render.
type Controller struct {
	relay    Relay
	view     *View
	now      func() time.Time
	onChange func()
	logger   zerolog.Logger

	mu          sync.Mutex
	session     Session
	placeholder *string
}

type ControllerOption func(*Controller) error

// WithOnChange registers a callback invoked after every render, outside the lock.
func WithOnChange(f func()) ControllerOption {
	return func(c *Controller) error {
		c.onChange = f
		return nil
	}
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		c.now = now
		return nil
	}
}

func NewController(relay Relay, view *View, opts ...ControllerOption) (*Controller, error) {
	if relay == nil {
		return nil, errors.New("relay is nil")
	}
	if view == nil {
		return nil, errors.New("view is nil")
	}
	c := &Controller{
		relay:  relay,
		view:   view,
		now:    time.Now,
		logger: log.With().Str("component", "chatclient").Logger(),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, errors.Wrap(err, "chat controller")
		}
	}
	c.mu.Lock()
	c.renderLocked()
	c.mu.Unlock()
	return c, nil
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Placeholder returns the streaming text shown while a turn is open.
func (c *Controller) Placeholder() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.placeholder == nil {
		return "", false
	}
	return *c.placeholder, true
}

func (c *Controller) View() *View { return c.view }

// Initialize creates the conversation thread and greets the user, or shows
// the apology and leaves the thread unset when the relay cannot be reached.
func (c *Controller) Initialize(ctx context.Context) error {
	id, err := c.relay.CreateThread(ctx)
	c.mu.Lock()
	if err != nil {
		c.logger.Error().Err(err).Msg("error initializing chat")
		c.appendLocked(RoleAssistant, ApologyText)
	} else {
		c.session.ThreadID = id
		c.logger.Debug().Str("thread_id", id).Msg("thread created")
		c.appendLocked(RoleAssistant, GreetingText)
	}
	c.renderLocked()
	c.mu.Unlock()
	c.notify()
	return err
}

// SendTurn sends text and blocks until the turn resolved. It returns false
// when the call was dropped: blank text or a turn already in progress.
func (c *Controller) SendTurn(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if text == "" || c.session.IsTyping {
		c.mu.Unlock()
		return false
	}
	c.appendLocked(RoleUser, text)
	threadID := c.session.ThreadID
	if threadID == "" {
		c.logger.Warn().Msg("no thread id available")
		c.appendLocked(RoleAssistant, ApologyText)
		c.renderLocked()
		c.mu.Unlock()
		c.notify()
		return true
	}
	c.session.IsTyping = true
	c.setPlaceholderLocked("")
	c.renderLocked()
	c.mu.Unlock()
	c.notify()

	text, err := c.runTurn(ctx, threadID, text)
	if err != nil {
		c.logger.Error().Err(err).Str("thread_id", threadID).Msg("error sending message")
		c.finish(FailureText)
		return true
	}
	c.finish(text)
	return true
}

// runTurn posts the message and consumes the run stream. It returns the
// buffered reply once end arrived.
func (c *Controller) runTurn(ctx context.Context, threadID, text string) (string, error) {
	if _, err := c.relay.PostMessage(ctx, threadID, text); err != nil {
		return "", err
	}
	body, err := c.relay.StartRun(ctx, threadID)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	var buf strings.Builder
	var terminal events.StreamEvent
	err = events.Consume(body, func(ev events.StreamEvent) bool {
		switch ev.Type {
		case events.TypeTextDelta:
			if v, ok := ev.Text(); ok {
				buf.WriteString(v)
				c.updatePlaceholder(buf.String())
			}
		case events.TypeMessageCreated:
			// the relay switched to Local Mode; upstream partial text is dropped
			if ev.SwitchesToLocal() && buf.Len() > 0 {
				buf.Reset()
				c.updatePlaceholder("")
			}
		case events.TypeEnd, events.TypeError:
			terminal = ev
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	switch terminal.Type {
	case events.TypeEnd:
		return buf.String(), nil
	case events.TypeError:
		return "", errors.Errorf("stream error: %s", terminal.Error)
	}
	return "", errNoTerminal
}

// finish closes the open turn, persisting text when non-empty.
func (c *Controller) finish(text string) {
	c.mu.Lock()
	c.placeholder = nil
	c.session.IsTyping = false
	if text != "" {
		c.appendLocked(RoleAssistant, text)
	}
	c.renderLocked()
	c.mu.Unlock()
	c.notify()
}

// ToggleOpen opens or closes the widget and reconciles the surfaces.
func (c *Controller) ToggleOpen() bool {
	c.mu.Lock()
	c.view.SetOpen(!c.view.Open())
	open := c.view.Open()
	c.renderLocked()
	c.mu.Unlock()
	c.notify()
	return open
}

// Render re-runs the layout reconciliation, e.g. after a surface was resized.
func (c *Controller) Render() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked()
}

func (c *Controller) updatePlaceholder(text string) {
	c.mu.Lock()
	c.setPlaceholderLocked(text)
	c.renderLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setPlaceholderLocked(text string) {
	c.placeholder = &text
}

func (c *Controller) appendLocked(role Role, text string) {
	c.session.Messages = append(c.session.Messages, Message{Role: role, Text: text, Timestamp: c.now()})
}

func (c *Controller) renderLocked() Layout {
	return c.view.Render(c.session, c.placeholder)
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

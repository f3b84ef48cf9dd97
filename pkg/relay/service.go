package relay

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/catalog-chat/pkg/events"
	"github.com/go-go-golems/catalog-chat/pkg/localmode"
	"github.com/go-go-golems/catalog-chat/pkg/threadstore"
	"github.com/go-go-golems/catalog-chat/pkg/turnbus"
	"github.com/go-go-golems/catalog-chat/pkg/upstream"
)

const (
	localThreadPrefix  = "local_"
	localMessagePrefix = "local_msg_"
)

// Sink receives the events of one turn in order.
type Sink interface {
	Send(ev events.StreamEvent) error
}

// TurnPublisher gets a copy of every event the relay emits.
type TurnPublisher interface {
	Publish(te turnbus.TurnEvent) error
}

// Service implements the relay operations. Without an upstream assistant it
// runs local-only: thread ids are minted locally, messages go to the thread
// store and every turn is answered by Local Mode.
type Service struct {
	upstream      upstream.Assistant
	local         *localmode.Generator
	store         threadstore.Store
	publisher     TurnPublisher
	localFallback bool
	now           func() time.Time
	logger        zerolog.Logger
}

type ServiceOption func(*Service) error

// WithUpstream sets the vendor client. A nil assistant keeps the service local-only.
func WithUpstream(a upstream.Assistant) ServiceOption {
	return func(s *Service) error {
		s.upstream = a
		return nil
	}
}

func WithLocalMode(g *localmode.Generator) ServiceOption {
	return func(s *Service) error {
		if g == nil {
			return errors.New("local mode generator is nil")
		}
		s.local = g
		return nil
	}
}

func WithThreadStore(st threadstore.Store) ServiceOption {
	return func(s *Service) error {
		if st == nil {
			return errors.New("thread store is nil")
		}
		s.store = st
		return nil
	}
}

func WithTurnPublisher(p TurnPublisher) ServiceOption {
	return func(s *Service) error {
		s.publisher = p
		return nil
	}
}

// WithLocalFallback controls whether upstream stream failures are answered by
// Local Mode (the default) or reported to the client.
func WithLocalFallback(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.localFallback = enabled
		return nil
	}
}

func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		s.now = now
		return nil
	}
}

func NewService(opts ...ServiceOption) (*Service, error) {
	s := &Service{
		localFallback: true,
		now:           time.Now,
		logger:        log.With().Str("component", "relay").Logger(),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, errors.Wrap(err, "relay service")
		}
	}
	if s.local == nil {
		g, err := localmode.NewGenerator()
		if err != nil {
			return nil, err
		}
		s.local = g
	}
	if s.store == nil {
		s.store = threadstore.NewInMemoryStore()
	}
	return s, nil
}

// LocalOnly reports whether the service runs without upstream credentials.
func (s *Service) LocalOnly() bool { return s.upstream == nil }

func (s *Service) CreateThread(ctx context.Context) (string, error) {
	if s.LocalOnly() {
		id := localThreadPrefix + uuid.NewString()
		if err := s.store.CreateThread(ctx, id, s.now().UnixMilli()); err != nil {
			return "", upstreamUnavailable("create local thread", err)
		}
		s.logger.Debug().Str("thread_id", id).Msg("created local thread")
		return id, nil
	}
	id, err := s.upstream.CreateThread(ctx)
	if err != nil {
		return "", upstreamUnavailable("create thread", err)
	}
	return id, nil
}

func (s *Service) PostMessage(ctx context.Context, threadID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", invalidArgument(msgMessageMissing)
	}
	if strings.TrimSpace(threadID) == "" {
		return "", invalidArgument(msgThreadMissing)
	}
	if s.LocalOnly() {
		id := localMessagePrefix + uuid.NewString()
		err := s.appendLocal(ctx, threadstore.Message{
			ID:       id,
			ThreadID: threadID,
			Role:     threadstore.RoleUser,
			Text:     text,
		})
		if err != nil {
			return "", upstreamUnavailable("add local message", err)
		}
		return id, nil
	}
	id, err := s.upstream.PostMessage(ctx, threadID, text)
	if err != nil {
		return "", upstreamUnavailable("add message", err)
	}
	return id, nil
}

func (s *Service) ListMessages(ctx context.Context, threadID string) (openai.MessagesList, error) {
	if strings.TrimSpace(threadID) == "" {
		return openai.MessagesList{}, invalidArgument(msgThreadMissing)
	}
	if s.LocalOnly() {
		if err := s.ensureLocalThread(ctx, threadID); err != nil {
			return openai.MessagesList{}, upstreamUnavailable("list local messages", err)
		}
		msgs, err := s.store.ListMessages(ctx, threadID)
		if err != nil {
			return openai.MessagesList{}, upstreamUnavailable("list local messages", err)
		}
		return toMessagesList(msgs), nil
	}
	list, err := s.upstream.ListMessages(ctx, threadID)
	if err != nil {
		return openai.MessagesList{}, upstreamUnavailable("list messages", err)
	}
	return list, nil
}

// StartRun streams one assistant turn into sink and emits exactly one terminal
// event unless ctx is cancelled first. A turn cut short that way is closed on
// the turn bus with an abort envelope. Upstream failures switch the turn to
// Local Mode. With the fallback disabled, a failure before anything was sent
// is returned as ErrUpstreamUnavailable and a later one ends the turn with an
// error event.
func (s *Service) StartRun(ctx context.Context, threadID string, sink Sink) error {
	if strings.TrimSpace(threadID) == "" {
		return invalidArgument(msgThreadMissing)
	}
	t := s.newTurn(threadID, sink)
	defer t.abortIfOpen()
	logger := s.logger.With().Str("thread_id", threadID).Str("turn_id", t.id).Logger()

	if s.LocalOnly() {
		return s.runLocal(ctx, t, false)
	}

	rs, err := s.upstream.StreamRun(ctx, threadID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.localFallback {
			logger.Error().Err(err).Msg("upstream run failed")
			return upstreamUnavailable("start run", err)
		}
		logger.Warn().Err(err).Msg("upstream run failed, switching to local mode")
		return s.runLocal(ctx, t, false)
	}
	defer func() { _ = rs.Close() }()

	for {
		ev, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			return t.emit(events.NewEnd(), turnbus.SourceUpstream)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_ = rs.Close()
			if !s.localFallback {
				logger.Error().Err(err).Int("relayed", t.seq).Msg("upstream stream failed")
				if t.seq == 0 {
					return upstreamUnavailable("stream run", err)
				}
				return t.emit(events.NewError("Failed to run assistant"), turnbus.SourceUpstream)
			}
			logger.Warn().Err(err).Int("relayed", t.seq).Msg("upstream stream failed, switching to local mode")
			return s.runLocal(ctx, t, t.seq > 0)
		}
		if err := t.emit(ev, turnbus.SourceUpstream); err != nil {
			return err
		}
		if t.closed {
			return nil
		}
	}
}

// runLocal finishes t with Local Mode. markSwitch emits a messageCreated event
// first so the client drops what it buffered from upstream.
func (s *Service) runLocal(ctx context.Context, t *turn, markSwitch bool) error {
	if markSwitch {
		marker := events.NewLocalSwitch(localMessagePrefix + uuid.NewString())
		if err := t.emit(marker, turnbus.SourceLocal); err != nil {
			return err
		}
	}
	text, err := s.local.Stream(ctx, func(ev events.StreamEvent) error {
		return t.emit(ev, turnbus.SourceLocal)
	})
	if err != nil {
		return err
	}
	if s.LocalOnly() {
		err := s.appendLocal(ctx, threadstore.Message{
			ID:       localMessagePrefix + uuid.NewString(),
			ThreadID: t.threadID,
			Role:     threadstore.RoleAssistant,
			Text:     text,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("thread_id", t.threadID).Msg("failed to record local reply")
		}
	}
	return nil
}

func (s *Service) appendLocal(ctx context.Context, msg threadstore.Message) error {
	if err := s.ensureLocalThread(ctx, msg.ThreadID); err != nil {
		return err
	}
	msg.CreatedAtMs = s.now().UnixMilli()
	return s.store.AppendMessage(ctx, msg)
}

// ensureLocalThread registers thread ids the store does not know, e.g. after a
// relay restart with the in-memory store. CreateThread is idempotent so
// concurrent requests for the same id can both call it.
func (s *Service) ensureLocalThread(ctx context.Context, threadID string) error {
	return s.store.CreateThread(ctx, threadID, s.now().UnixMilli())
}

// turn tracks one StartRun: sequence numbers for the bus and the terminal guard.
type turn struct {
	id        string
	threadID  string
	sink      Sink
	publisher TurnPublisher
	logger    zerolog.Logger
	seq       int
	closed    bool
}

func (s *Service) newTurn(threadID string, sink Sink) *turn {
	return &turn{
		id:        uuid.NewString(),
		threadID:  threadID,
		sink:      sink,
		publisher: s.publisher,
		logger:    s.logger,
	}
}

var errTurnClosed = errors.New("turn already ended")

// abortIfOpen tells the bus that a turn which relayed events will not get a
// terminal one. Nothing is sent to the client.
func (t *turn) abortIfOpen() {
	if t.closed || t.seq == 0 || t.publisher == nil {
		return
	}
	t.closed = true
	te := turnbus.TurnEvent{ThreadID: t.threadID, TurnID: t.id, Seq: t.seq, Aborted: true}
	if err := t.publisher.Publish(te); err != nil {
		t.logger.Debug().Err(err).Str("turn_id", t.id).Msg("turn bus publish failed")
	}
}

func (t *turn) emit(ev events.StreamEvent, src turnbus.Source) error {
	if t.closed {
		return errTurnClosed
	}
	if err := t.sink.Send(ev); err != nil {
		return err
	}
	t.seq++
	if ev.Type.Terminal() {
		t.closed = true
	}
	if t.publisher != nil {
		te := turnbus.TurnEvent{ThreadID: t.threadID, TurnID: t.id, Seq: t.seq, Source: src, Event: ev}
		if err := t.publisher.Publish(te); err != nil {
			t.logger.Debug().Err(err).Str("turn_id", t.id).Msg("turn bus publish failed")
		}
	}
	return nil
}

func toMessagesList(msgs []threadstore.Message) openai.MessagesList {
	out := openai.MessagesList{
		Object:   "list",
		Messages: make([]openai.Message, 0, len(msgs)),
	}
	// newest first, like the vendor's default order
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		out.Messages = append(out.Messages, openai.Message{
			ID:        m.ID,
			Object:    "thread.message",
			CreatedAt: int(m.CreatedAtMs / 1000),
			ThreadID:  m.ThreadID,
			Role:      string(m.Role),
			Content: []openai.MessageContent{{
				Type: "text",
				Text: &openai.MessageText{Value: m.Text, Annotations: []any{}},
			}},
			FileIds:  []string{},
			Metadata: map[string]any{},
		})
	}
	if n := len(out.Messages); n > 0 {
		first, last := out.Messages[0].ID, out.Messages[n-1].ID
		out.FirstID = &first
		out.LastID = &last
	}
	return out
}

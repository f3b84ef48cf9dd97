package turnbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

// TurnSummary is what the auditor records once every event of a turn arrived.
type TurnSummary struct {
	ThreadID   string
	TurnID     string
	Events     int
	TextDeltas int
	TextRunes  int
	Sources    []Source
	Terminal   events.EventType
	// Aborted is set when the turn ended without a terminal event.
	Aborted bool
}

// SwitchedToLocal reports whether the turn started upstream and finished in Local Mode.
func (s TurnSummary) SwitchedToLocal() bool {
	return len(s.Sources) > 1 && s.Sources[0] == SourceUpstream && s.Sources[len(s.Sources)-1] == SourceLocal
}

type turnState struct {
	summary TurnSummary
	seen    int
	total   int
	// sources indexed by seq so the order survives out-of-order delivery
	bySeq map[int]Source
}

// Auditor consumes the turn topic and logs one summary per completed turn.
// Delivery order is not assumed: a turn completes when the number of received
// events equals the Seq of its terminal event or of its abort envelope.
type Auditor struct {
	bus    *Bus
	onTurn func(TurnSummary)
	logger zerolog.Logger

	mu    sync.Mutex
	turns map[string]*turnState

	completed atomic.Uint64
	aborted   atomic.Uint64
	done      chan struct{}
	startOnce sync.Once
}

func NewAuditor(bus *Bus, onTurn func(TurnSummary)) *Auditor {
	return &Auditor{
		bus:    bus,
		onTurn: onTurn,
		logger: log.With().Str("component", "turn-auditor").Logger(),
		turns:  map[string]*turnState{},
		done:   make(chan struct{}),
	}
}

// Start subscribes synchronously and consumes in the background until ctx is
// cancelled or the bus is closed. Done is closed when consumption stops.
func (a *Auditor) Start(ctx context.Context) error {
	ch, err := a.bus.Subscribe(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("subscribe failed")
		return err
	}
	a.startOnce.Do(func() { go a.consume(ctx, ch) })
	return nil
}

func (a *Auditor) Done() <-chan struct{} { return a.done }

// Completed returns the number of turns summarized so far.
func (a *Auditor) Completed() uint64 { return a.completed.Load() }

// Aborted returns the number of turns closed by an abort envelope.
func (a *Auditor) Aborted() uint64 { return a.aborted.Load() }

// Open returns the number of turns with events still outstanding.
func (a *Auditor) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}

func (a *Auditor) consume(ctx context.Context, ch <-chan *message.Message) {
	defer close(a.done)
	a.logger.Info().Str("topic", Topic).Msg("turn auditor: started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("turn auditor: stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				a.logger.Info().Msg("turn auditor: stopped")
				return
			}
			var te TurnEvent
			if err := json.Unmarshal(msg.Payload, &te); err != nil {
				a.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("turn auditor: failed to decode turn event")
				msg.Ack()
				continue
			}
			a.observe(te)
			msg.Ack()
		}
	}
}

func (a *Auditor) observe(te TurnEvent) {
	if te.TurnID == "" || te.Seq <= 0 {
		return
	}
	a.mu.Lock()
	st, ok := a.turns[te.TurnID]
	if !ok {
		st = &turnState{
			summary: TurnSummary{ThreadID: te.ThreadID, TurnID: te.TurnID},
			bySeq:   map[int]Source{},
		}
		a.turns[te.TurnID] = st
	}
	if te.Aborted {
		st.total = te.Seq
		st.summary.Aborted = true
	} else {
		st.seen++
		st.summary.Events++
		st.bySeq[te.Seq] = te.Source
		if txt, ok := te.Event.Text(); ok {
			st.summary.TextDeltas++
			st.summary.TextRunes += len([]rune(txt))
		}
		if te.Event.Type.Terminal() {
			st.total = te.Seq
			st.summary.Terminal = te.Event.Type
		}
	}
	var finished *TurnSummary
	if st.total > 0 && st.seen >= st.total {
		st.summary.Sources = orderedSources(st.bySeq, st.total)
		s := st.summary
		finished = &s
		delete(a.turns, te.TurnID)
	}
	a.mu.Unlock()

	if finished == nil {
		return
	}
	if finished.Aborted {
		a.aborted.Add(1)
		a.logger.Info().
			Str("thread_id", finished.ThreadID).
			Str("turn_id", finished.TurnID).
			Int("events", finished.Events).
			Msg("turn aborted")
	} else {
		a.completed.Add(1)
		a.logger.Info().
			Str("thread_id", finished.ThreadID).
			Str("turn_id", finished.TurnID).
			Int("events", finished.Events).
			Int("text_deltas", finished.TextDeltas).
			Int("text_runes", finished.TextRunes).
			Str("terminal", string(finished.Terminal)).
			Bool("switched_to_local", finished.SwitchedToLocal()).
			Msg("turn completed")
	}
	if a.onTurn != nil {
		a.onTurn(*finished)
	}
}

func orderedSources(bySeq map[int]Source, total int) []Source {
	var out []Source
	for i := 1; i <= total; i++ {
		src, ok := bySeq[i]
		if !ok {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != src {
			out = append(out, src)
		}
	}
	return out
}

package localmode

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

const DefaultCadence = 50 * time.Millisecond

// Emit receives one event. Returning an error aborts the stream.
type Emit func(events.StreamEvent) error

// Generator produces Local Mode turns: one canned response, one textDelta per
// rune at a fixed cadence, then one end.
type Generator struct {
	responses []string
	cadence   time.Duration
	pick      func(n int) int
}

type Option func(*Generator) error

func WithResponses(responses []string) Option {
	return func(g *Generator) error {
		if len(responses) == 0 {
			return errors.New("empty response set")
		}
		g.responses = append([]string(nil), responses...)
		return nil
	}
}

// WithCadence sets the delay between deltas. Zero emits without pausing.
func WithCadence(d time.Duration) Option {
	return func(g *Generator) error {
		if d < 0 {
			return errors.Errorf("negative cadence %s", d)
		}
		g.cadence = d
		return nil
	}
}

// WithPicker replaces the pseudo-random choice; pick(n) must return an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(g *Generator) error {
		if pick == nil {
			return errors.New("picker is nil")
		}
		g.pick = pick
		return nil
	}
}

func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{
		responses: DefaultResponses,
		cadence:   DefaultCadence,
		pick:      rand.IntN,
	}
	for _, o := range opts {
		if err := o(g); err != nil {
			return nil, errors.Wrap(err, "local mode")
		}
	}
	return g, nil
}

func (g *Generator) Responses() []string { return append([]string(nil), g.responses...) }

func (g *Generator) Cadence() time.Duration { return g.cadence }

// Pick selects the response for one turn.
func (g *Generator) Pick() string {
	i := g.pick(len(g.responses))
	if i < 0 || i >= len(g.responses) {
		i = 0
	}
	return g.responses[i]
}

// Stream picks a response and plays it. It returns the full response once end
// was emitted. If ctx is cancelled emission stops without a terminal event and
// ctx.Err() is returned.
func (g *Generator) Stream(ctx context.Context, emit Emit) (string, error) {
	resp := g.Pick()
	return resp, g.Play(ctx, resp, emit)
}

// Play emits text rune by rune followed by end.
func (g *Generator) Play(ctx context.Context, text string, emit Emit) error {
	var timer *time.Timer
	if g.cadence > 0 {
		timer = time.NewTimer(g.cadence)
		defer timer.Stop()
	}

	runes := []rune(text)
	for i, r := range runes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && timer != nil {
			timer.Reset(g.cadence)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := emit(events.NewTextDelta(string(r), string(runes[:i+1]))); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return emit(events.NewEnd())
}

package turnbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

func TestSettings_Defaults(t *testing.T) {
	s := Settings{}.withDefaults()
	require.Equal(t, DefaultRedisAddr, s.Addr)
	require.Equal(t, DefaultGroup, s.Group)
	require.Equal(t, DefaultConsumer, s.Consumer)
}

func TestAuditor_SummarizesTurnDeliveredOutOfOrder(t *testing.T) {
	bus, err := New(Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	got := make(chan TurnSummary, 1)
	aud := NewAuditor(bus, func(s TurnSummary) { got <- s })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, aud.Start(ctx))

	turn := []TurnEvent{
		{ThreadID: "th", TurnID: "t1", Seq: 1, Source: SourceUpstream, Event: events.NewTextDelta("a", "a")},
		{ThreadID: "th", TurnID: "t1", Seq: 2, Source: SourceUpstream, Event: events.NewTextDelta("b", "ab")},
		{ThreadID: "th", TurnID: "t1", Seq: 3, Source: SourceLocal, Event: events.NewMessageCreated(map[string]any{"id": "local_msg_1"})},
		{ThreadID: "th", TurnID: "t1", Seq: 4, Source: SourceLocal, Event: events.NewTextDelta("ok", "ok")},
		{ThreadID: "th", TurnID: "t1", Seq: 5, Source: SourceLocal, Event: events.NewEnd()},
	}
	// terminal first: the auditor must wait for the rest
	require.NoError(t, bus.Publish(turn[4]))
	for _, te := range turn[:4] {
		require.NoError(t, bus.Publish(te))
	}

	select {
	case s := <-got:
		require.Equal(t, "t1", s.TurnID)
		require.Equal(t, 5, s.Events)
		require.Equal(t, 3, s.TextDeltas)
		require.Equal(t, 4, s.TextRunes)
		require.Equal(t, events.TypeEnd, s.Terminal)
		require.Equal(t, []Source{SourceUpstream, SourceLocal}, s.Sources)
		require.True(t, s.SwitchedToLocal())
	case <-time.After(2 * time.Second):
		t.Fatal("turn summary not received")
	}
	require.Equal(t, uint64(1), aud.Completed())
	require.Equal(t, 0, aud.Open())

	cancel()
	select {
	case <-aud.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("auditor did not stop")
	}
}

func TestAuditor_AbortEnvelopeClosesTurn(t *testing.T) {
	bus, err := New(Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	var summaries []TurnSummary
	aud := NewAuditor(bus, func(s TurnSummary) { summaries = append(summaries, s) })

	// abort seen before the events it counts
	aud.observe(TurnEvent{ThreadID: "th", TurnID: "t1", Seq: 2, Aborted: true})
	require.Equal(t, 1, aud.Open())
	aud.observe(TurnEvent{ThreadID: "th", TurnID: "t1", Seq: 1, Source: SourceLocal, Event: events.NewTextDelta("a", "")})
	require.Equal(t, 1, aud.Open())
	aud.observe(TurnEvent{ThreadID: "th", TurnID: "t1", Seq: 2, Source: SourceLocal, Event: events.NewTextDelta("b", "")})

	require.Equal(t, 0, aud.Open())
	require.Equal(t, uint64(1), aud.Aborted())
	require.Equal(t, uint64(0), aud.Completed())
	require.Len(t, summaries, 1)
	require.True(t, summaries[0].Aborted)
	require.Equal(t, 2, summaries[0].Events)
	require.Empty(t, summaries[0].Terminal)
}

func TestAuditor_IgnoresEnvelopesWithoutTurn(t *testing.T) {
	bus, err := New(Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	aud := NewAuditor(bus, nil)
	aud.observe(TurnEvent{Seq: 1, Event: events.NewEnd()})
	aud.observe(TurnEvent{TurnID: "x", Event: events.NewEnd()})
	require.Equal(t, uint64(0), aud.Completed())
	require.Equal(t, 0, aud.Open())
}

func TestBus_PublishAfterCloseFails(t *testing.T) {
	bus, err := New(Settings{})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	require.Error(t, bus.Publish(TurnEvent{TurnID: "t", Seq: 1, Event: events.NewEnd()}))
}

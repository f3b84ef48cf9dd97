package localmode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

func collect(t *testing.T, g *Generator, ctx context.Context) ([]events.StreamEvent, string, error) {
	t.Helper()
	var out []events.StreamEvent
	resp, err := g.Stream(ctx, func(ev events.StreamEvent) error {
		out = append(out, ev)
		return nil
	})
	return out, resp, err
}

func TestGenerator_EveryDefaultResponseHasDeterministicShape(t *testing.T) {
	for i, want := range DefaultResponses {
		idx := i
		g, err := NewGenerator(WithCadence(0), WithPicker(func(int) int { return idx }))
		require.NoError(t, err)

		evs, resp, err := collect(t, g, context.Background())
		require.NoError(t, err)
		require.Equal(t, want, resp)
		require.Len(t, evs, utf8.RuneCountInString(want)+1)

		var text string
		for _, ev := range evs[:len(evs)-1] {
			require.Equal(t, events.TypeTextDelta, ev.Type)
			v, ok := ev.Text()
			require.True(t, ok)
			require.Equal(t, 1, utf8.RuneCountInString(v))
			text += v
		}
		require.Equal(t, want, text)
		require.Equal(t, events.TypeEnd, evs[len(evs)-1].Type)
	}
}

func TestGenerator_MultiByteRunes(t *testing.T) {
	g, err := NewGenerator(WithCadence(0), WithResponses([]string{"héllo ✓"}))
	require.NoError(t, err)
	evs, _, err := collect(t, g, context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 8)
	require.JSONEq(t, `{"value":"héllo ✓"}`, string(evs[6].Snapshot))
}

func TestGenerator_CancelStopsWithoutTerminal(t *testing.T) {
	g, err := NewGenerator(WithCadence(time.Millisecond), WithResponses([]string{"abcdefghij"}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var got []events.StreamEvent
	_, err = g.Stream(ctx, func(ev events.StreamEvent) error {
		got = append(got, ev)
		if len(got) == 3 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 3)
	for _, ev := range got {
		require.False(t, ev.Type.Terminal())
	}
}

func TestGenerator_CadenceSpacesDeltas(t *testing.T) {
	g, err := NewGenerator(WithCadence(5*time.Millisecond), WithResponses([]string{"abcd"}))
	require.NoError(t, err)
	start := time.Now()
	_, _, err = collect(t, g, context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestGenerator_EmitErrorAborts(t *testing.T) {
	g, err := NewGenerator(WithCadence(0), WithResponses([]string{"abc"}))
	require.NoError(t, err)
	n := 0
	_, err = g.Stream(context.Background(), func(events.StreamEvent) error {
		n++
		return os.ErrClosed
	})
	require.ErrorIs(t, err, os.ErrClosed)
	require.Equal(t, 1, n)
}

func TestGenerator_OutOfRangePickFallsBackToFirst(t *testing.T) {
	g, err := NewGenerator(WithResponses([]string{"a", "b"}), WithPicker(func(int) int { return 7 }))
	require.NoError(t, err)
	require.Equal(t, "a", g.Pick())
}

func TestNewGenerator_RejectsBadOptions(t *testing.T) {
	_, err := NewGenerator(WithResponses(nil))
	require.Error(t, err)
	_, err = NewGenerator(WithCadence(-time.Second))
	require.Error(t, err)
	_, err = NewGenerator(WithPicker(nil))
	require.Error(t, err)
}

func TestLoadResponses(t *testing.T) {
	p := filepath.Join(t.TempDir(), "responses.yaml")
	require.NoError(t, os.WriteFile(p, []byte("responses:\n  - \"one\"\n  - \"  \"\n  - two\n"), 0o644))
	rs, err := LoadResponses(p)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, rs)

	_, err = ParseResponses([]byte("responses: []\n"))
	require.Error(t, err)
	_, err = LoadResponses(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

package chatclient

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

type inputOnly struct{ visible bool }

func (i *inputOnly) SetVisible(v bool) { i.visible = v }
func (i *inputOnly) Visible() bool     { return i.visible }
func (i *inputOnly) Focus()            {}
func (i *inputOnly) Blur()             {}

func totalChanges(surfaces map[SurfaceRole]*MemorySurface) int {
	n := 0
	for _, s := range surfaces {
		n += s.Changes() + s.Focuses()
	}
	return n
}

func TestSession_IsExpandedCountsRunes(t *testing.T) {
	s := Session{Messages: []Message{{Text: strings.Repeat("é", 100)}}}
	require.False(t, s.IsExpanded())
	s.Messages = append(s.Messages, Message{Text: strings.Repeat("a", 101)})
	require.True(t, s.IsExpanded())
}

func TestView_ShortMessageStaysCompact(t *testing.T) {
	b, surfaces := MemoryBindings(40, 100)
	v := NewView(b)
	layout := v.Render(Session{Messages: []Message{{Role: RoleUser, Text: "hi"}}}, nil)
	require.Equal(t, LayoutCompact, layout)
	require.True(t, surfaces[CompactInput].Visible())
	require.True(t, surfaces[CompactTranscript].Visible())
	require.False(t, surfaces[ExpandedInput].Visible())
	require.False(t, surfaces[ExpandedTranscript].Visible())
}

func TestView_LongMessageExpandsAndMirrorsTranscript(t *testing.T) {
	b, surfaces := MemoryBindings(40, 100)
	v := NewView(b)
	s := Session{Messages: []Message{
		{Role: RoleAssistant, Text: GreetingText},
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: strings.Repeat("x", 101)},
	}}
	require.Equal(t, LayoutExpanded, v.Render(s, nil))
	require.False(t, surfaces[CompactInput].Visible())
	require.False(t, surfaces[CompactTranscript].Visible())
	require.True(t, surfaces[ExpandedInput].Visible())
	require.True(t, surfaces[ExpandedTranscript].Visible())
	require.True(t, surfaces[ExpandedInput].Focused())
	require.False(t, surfaces[CompactInput].Focused())

	expanded := surfaces[ExpandedTranscript].Entries()
	require.Len(t, expanded, 3)
	require.Equal(t, surfaces[CompactTranscript].Entries(), expanded)
	require.Equal(t, 100, surfaces[ExpandedTranscript].Width())
	require.Equal(t, 40, surfaces[CompactTranscript].Width())
}

func TestView_RenderIsIdempotent(t *testing.T) {
	b, surfaces := MemoryBindings(40, 100)
	v := NewView(b)
	s := Session{Messages: []Message{{Role: RoleUser, Text: strings.Repeat("y", 150)}}}
	placeholder := "typing"

	v.Render(s, &placeholder)
	before := totalChanges(surfaces)
	v.Render(s, &placeholder)
	require.Equal(t, before, totalChanges(surfaces))
}

func TestView_PlaceholderRenderedAsPendingEntry(t *testing.T) {
	b, surfaces := MemoryBindings(40, 100)
	v := NewView(b)
	p := "partial"
	v.Render(Session{Messages: []Message{{Role: RoleUser, Text: "q"}}}, &p)
	entries := surfaces[CompactTranscript].Entries()
	require.Len(t, entries, 2)
	require.True(t, entries[1].Pending)
	require.Equal(t, "partial", entries[1].Text)
}

func TestNewBindings_Validation(t *testing.T) {
	_, surfaces := MemoryBindings(10, 20)
	full := map[SurfaceRole]Surface{}
	for role, s := range surfaces {
		full[role] = s
	}
	_, err := NewBindings(full)
	require.NoError(t, err)

	missing := map[SurfaceRole]Surface{}
	for role, s := range full {
		if role != ExpandedTranscript {
			missing[role] = s
		}
	}
	_, err = NewBindings(missing)
	require.ErrorContains(t, err, "expanded-transcript")

	wrongKind := map[SurfaceRole]Surface{}
	for role, s := range full {
		wrongKind[role] = s
	}
	wrongKind[CompactTranscript] = &inputOnly{}
	_, err = NewBindings(wrongKind)
	require.ErrorContains(t, err, "not a transcript")
}

func TestController_LayoutFollowsConversation(t *testing.T) {
	long := strings.Repeat("Catalog details. ", 8)
	fr := &fakeRelay{threadID: "t", body: frames(t, events.NewTextDelta(long, long), events.NewEnd())}
	c, surfaces := newTestController(t, fr, WithClock(func() time.Time { return time.Unix(0, 0) }))
	require.NoError(t, c.Initialize(context.Background()))
	require.Equal(t, LayoutCompact, c.View().Layout())
	require.True(t, surfaces[CompactTranscript].Visible())

	c.SendTurn(context.Background(), "hi")
	require.Equal(t, LayoutExpanded, c.View().Layout())
	require.True(t, surfaces[ExpandedTranscript].Visible())
	require.False(t, surfaces[CompactTranscript].Visible())
	require.Len(t, surfaces[ExpandedTranscript].Entries(), 3)
	require.Equal(t, LayoutExpanded, c.Render())
}

package ui

import (
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/catalog-chat/pkg/chatclient"
	"github.com/go-go-golems/catalog-chat/pkg/events"
)

type scriptedRelay struct {
	threadID  string
	createErr error
	reply     string
}

func (r *scriptedRelay) CreateThread(context.Context) (string, error) {
	return r.threadID, r.createErr
}

func (r *scriptedRelay) PostMessage(context.Context, string, string) (string, error) {
	return "msg_1", nil
}

func (r *scriptedRelay) StartRun(context.Context, string) (io.ReadCloser, error) {
	var b strings.Builder
	for _, ev := range []events.StreamEvent{events.NewTextDelta(r.reply, r.reply), events.NewEnd()} {
		f, err := events.EncodeFrame(ev)
		if err != nil {
			return nil, err
		}
		b.Write(f)
	}
	return io.NopCloser(strings.NewReader(b.String())), nil
}

// runCmd executes cmd and feeds the resulting messages back into m, expanding
// batches. Spinner ticks are not re-armed.
func runCmd(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			runCmd(t, m, c)
		}
	case nil:
	default:
		_, _ = m.Update(msg)
	}
}

func newTestModel(t *testing.T, relay chatclient.Relay, opts ...Option) *Model {
	t.Helper()
	m, err := New(context.Background(), relay, opts...)
	require.NoError(t, err)
	_, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	_, _ = m.Update(m.initialize())
	return m
}

func typeText(m *Model, text string) tea.Cmd {
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestModel_GreetsAndAnswers(t *testing.T) {
	m := newTestModel(t, &scriptedRelay{threadID: "t1", reply: "Try the blue mug."})
	require.Contains(t, m.View(), "Hello!")
	require.True(t, m.input.Focused())

	runCmd(t, m, typeText(m, "mugs?"))

	msgs := m.Controller().Session().Messages
	require.Equal(t, "Try the blue mug.", msgs[len(msgs)-1].Text)
	require.Empty(t, m.input.Value())
	require.Contains(t, m.View(), "Try the blue mug.")
	require.True(t, m.backend.IsFinished())
}

func TestModel_InitFailureShowsApology(t *testing.T) {
	m := newTestModel(t, &scriptedRelay{createErr: errors.New("refused")})
	require.Contains(t, m.Status(), "relay unreachable")
	require.Contains(t, m.View(), "Sorry")
}

func TestModel_LongAnswerSwitchesToExpanded(t *testing.T) {
	long := strings.Repeat("catalog ", 20)
	m := newTestModel(t, &scriptedRelay{threadID: "t1", reply: long})
	runCmd(t, m, typeText(m, "tell me everything"))

	require.Equal(t, chatclient.LayoutExpanded, m.Controller().View().Layout())
	require.True(t, m.surfaces[chatclient.ExpandedTranscript].Visible())
	require.False(t, m.surfaces[chatclient.CompactTranscript].Visible())
	require.Contains(t, m.View(), "(expanded)")
	require.True(t, m.input.Focused())
}

func TestModel_ToggleAndCopy(t *testing.T) {
	var copied string
	m := newTestModel(t, &scriptedRelay{threadID: "t1", reply: "ok"},
		WithClipboard(func(s string) error { copied = s; return nil }))

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Equal(t, chatclient.GreetingText, copied)
	require.Contains(t, m.Status(), "copied")

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	require.False(t, m.Controller().View().Open())
	require.False(t, m.input.Focused())
	require.Contains(t, m.View(), "ctrl+o open")
	require.Nil(t, typeText(m, "ignored while closed"))

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	require.True(t, m.input.Focused())
}

func TestModel_CopyFailureIsReported(t *testing.T) {
	m := newTestModel(t, &scriptedRelay{threadID: "t1"},
		WithClipboard(func(string) error { return errors.New("no display") }))
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Contains(t, m.Status(), "copy failed")
}

func TestModel_QuitKeys(t *testing.T) {
	m := newTestModel(t, &scriptedRelay{threadID: "t1"})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}

func TestControllerBackend_RejectsSecondStart(t *testing.T) {
	m := newTestModel(t, &scriptedRelay{threadID: "t1", reply: "x"})
	b := m.backend
	cmd, err := b.Start(context.Background(), "one")
	require.NoError(t, err)
	require.False(t, b.IsFinished())
	_, err = b.Start(context.Background(), "two")
	require.Error(t, err)

	msg := cmd()
	require.Equal(t, TurnFinishedMsg{Sent: true}, msg)
	require.True(t, b.IsFinished())
}

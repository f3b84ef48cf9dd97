package ui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/catalog-chat/pkg/chatclient"
)

const (
	compactWidth   = 48
	compactHeight  = 12
	minWidth       = 20
	defaultWidth   = 80
	defaultHeight  = 24
	chromeHeight   = 6
	inputCharLimit = 2000
)

type changedMsg struct{}

type initializedMsg struct {
	err error
}

type Option func(*Model) error

// WithClipboard replaces the system clipboard writer used by ctrl+y.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) error {
		if write == nil {
			return errors.New("clipboard writer is nil")
		}
		m.copy = write
		return nil
	}
}

// Model is the bubbletea front-end of the conversation client. The four view
// surfaces are in-memory; the model renders whichever pair is visible.
type Model struct {
	ctx        context.Context
	controller *chatclient.Controller
	backend    *ControllerBackend
	surfaces   map[chatclient.SurfaceRole]*chatclient.MemorySurface
	changes    chan struct{}

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	copy      func(string) error
	status    string
	width     int
	height    int
	renderers map[int]*glamour.TermRenderer
	logger    zerolog.Logger
}

var _ tea.Model = &Model{}

func New(ctx context.Context, relay chatclient.Relay, opts ...Option) (*Model, error) {
	bindings, surfaces := chatclient.MemoryBindings(compactWidth, defaultWidth-4)
	m := &Model{
		ctx:       ctx,
		surfaces:  surfaces,
		changes:   make(chan struct{}, 1),
		copy:      clipboard.WriteAll,
		width:     defaultWidth,
		height:    defaultHeight,
		renderers: map[int]*glamour.TermRenderer{},
		logger:    log.With().Str("component", "ui").Logger(),
	}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}

	c, err := chatclient.NewController(relay, chatclient.NewView(bindings), chatclient.WithOnChange(m.signal))
	if err != nil {
		return nil, err
	}
	m.controller = c
	m.backend = NewControllerBackend(c)

	ti := textinput.New()
	ti.Placeholder = "Ask about the catalog..."
	ti.CharLimit = inputCharLimit
	ti.Prompt = "> "
	m.input = ti

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	m.spinner = sp

	m.viewport = viewport.New(compactWidth, compactHeight)
	m.syncFocus()
	return m, nil
}

func (m *Model) Controller() *chatclient.Controller { return m.controller }

func (m *Model) Status() string { return m.status }

// signal coalesces controller change notifications into one pending message.
func (m *Model) signal() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func (m *Model) initialize() tea.Msg {
	return initializedMsg{err: m.controller.Initialize(m.ctx)}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.initialize, waitForChange(m.changes))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(ev.Width, ev.Height)
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitForChange(m.changes)

	case initializedMsg:
		if ev.err != nil {
			m.status = errorStyle.Render("relay unreachable")
		}
		m.refresh()
		return m, nil

	case TurnFinishedMsg:
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		if m.controller.Session().IsTyping {
			m.refresh()
		}
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(ev)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "ctrl+c":
		m.backend.Interrupt()
		return m, tea.Quit
	case "esc":
		if !m.backend.IsFinished() {
			m.backend.Interrupt()
			m.status = statusStyle.Render("interrupted")
			return m, nil
		}
		return m, tea.Quit
	case "ctrl+o":
		m.controller.ToggleOpen()
		m.refresh()
		return m, nil
	case "ctrl+y":
		m.copyLastAnswer()
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(k)
		return m, cmd
	case "enter":
		return m, m.send()
	}
	if !m.controller.View().Open() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(k)
	return m, cmd
}

func (m *Model) send() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" || !m.controller.View().Open() {
		return nil
	}
	if !m.backend.IsFinished() {
		m.status = statusStyle.Render("wait for the current answer")
		return nil
	}
	cmd, err := m.backend.Start(m.ctx, text)
	if err != nil {
		m.status = errorStyle.Render(err.Error())
		return nil
	}
	m.input.Reset()
	m.status = ""
	return tea.Batch(cmd, m.spinner.Tick)
}

func (m *Model) copyLastAnswer() {
	msgs := m.controller.Session().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != chatclient.RoleAssistant {
			continue
		}
		if err := m.copy(msgs[i].Text); err != nil {
			m.logger.Warn().Err(err).Msg("clipboard write failed")
			m.status = errorStyle.Render("copy failed")
			return
		}
		m.status = statusStyle.Render("copied last answer")
		return
	}
	m.status = statusStyle.Render("nothing to copy")
}

func (m *Model) resize(width, height int) {
	m.width = max(width, minWidth)
	m.height = max(height, chromeHeight+1)
	expanded := m.width - 4
	m.surfaces[chatclient.ExpandedInput].SetWidth(expanded)
	m.surfaces[chatclient.ExpandedTranscript].SetWidth(expanded)
	compact := min(compactWidth, expanded)
	m.surfaces[chatclient.CompactInput].SetWidth(compact)
	m.surfaces[chatclient.CompactTranscript].SetWidth(compact)
	m.controller.Render()
	m.refresh()
}

// syncFocus mirrors the focus of the bound input surfaces onto the text input.
func (m *Model) syncFocus() {
	if m.surfaces[chatclient.CompactInput].Focused() || m.surfaces[chatclient.ExpandedInput].Focused() {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) visibleTranscript() (*chatclient.MemorySurface, bool) {
	if s := m.surfaces[chatclient.ExpandedTranscript]; s.Visible() {
		return s, true
	}
	if s := m.surfaces[chatclient.CompactTranscript]; s.Visible() {
		return s, false
	}
	return nil, false
}

func (m *Model) refresh() {
	m.syncFocus()
	tr, expanded := m.visibleTranscript()
	if tr == nil {
		return
	}
	width := tr.Width()
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)
	m.viewport.Width = width
	if expanded {
		m.viewport.Height = m.height - chromeHeight
	} else {
		m.viewport.Height = min(compactHeight, m.height-chromeHeight)
	}

	lines := make([]string, 0, len(tr.Entries()))
	for _, e := range tr.Entries() {
		lines = append(lines, m.renderEntry(e, width, expanded))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) renderEntry(e chatclient.Entry, width int, expanded bool) string {
	wrap := lipgloss.NewStyle().Width(width)
	switch {
	case e.Role == chatclient.RoleUser:
		return wrap.Render(userStyle.Render("You: ") + e.Text)
	case e.Pending && e.Text == "":
		return pendingStyle.Render(m.spinner.View() + " typing")
	case e.Pending:
		return wrap.Render(pendingStyle.Render(e.Text))
	case expanded:
		if out, err := m.markdown(e.Text, width); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return wrap.Render(assistantStyle.Render(e.Text))
}

func (m *Model) markdown(text string, width int) (string, error) {
	r, ok := m.renderers[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(width))
		if err != nil {
			m.logger.Debug().Err(err).Msg("markdown renderer unavailable")
			return "", err
		}
		m.renderers[width] = r
	}
	return r.Render(text)
}

func (m *Model) View() string {
	view := m.controller.View()
	if !view.Open() {
		bar := headerStyle.Render("Catalog assistant") + statusStyle.Render("  ctrl+o open  esc quit")
		if m.status != "" {
			bar += "\n" + m.status
		}
		return bar
	}

	frame := compactFrame
	title := "Catalog assistant"
	if view.Layout() == chatclient.LayoutExpanded {
		frame = expandedFrame
		title += " (expanded)"
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(title),
		m.viewport.View(),
		m.input.View(),
	)
	out := frame.Render(body)
	help := statusStyle.Render("enter send  ctrl+y copy  ctrl+o close  esc quit")
	if m.status != "" {
		help = m.status + "  " + help
	}
	return out + "\n" + help
}

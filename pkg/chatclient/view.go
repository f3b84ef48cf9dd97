package chatclient

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// SurfaceRole names one of the four bound surfaces of the widget.
type SurfaceRole string

const (
	CompactInput       SurfaceRole = "compact-input"
	ExpandedInput      SurfaceRole = "expanded-input"
	CompactTranscript  SurfaceRole = "compact-transcript"
	ExpandedTranscript SurfaceRole = "expanded-transcript"
)

var surfaceRoles = []SurfaceRole{CompactInput, ExpandedInput, CompactTranscript, ExpandedTranscript}

type Layout int

const (
	LayoutCompact Layout = iota
	LayoutExpanded
)

func (l Layout) String() string {
	if l == LayoutExpanded {
		return "expanded"
	}
	return "compact"
}

// Entry is one transcript line as rendered. Pending marks the typing placeholder.
type Entry struct {
	Role    Role
	Text    string
	Pending bool
}

type Surface interface {
	SetVisible(visible bool)
	Visible() bool
}

type InputSurface interface {
	Surface
	Focus()
	Blur()
}

type TranscriptSurface interface {
	Surface
	Width() int
	SetEntries(entries []Entry)
}

// Bindings maps every surface role to its surface. All four are required.
type Bindings struct {
	CompactInput       InputSurface
	ExpandedInput      InputSurface
	CompactTranscript  TranscriptSurface
	ExpandedTranscript TranscriptSurface
}

// NewBindings builds the binding table from a role map, checking that every
// role is bound to a surface of the right kind.
func NewBindings(surfaces map[SurfaceRole]Surface) (Bindings, error) {
	var b Bindings
	for _, role := range surfaceRoles {
		s, ok := surfaces[role]
		if !ok || s == nil {
			return Bindings{}, errors.Errorf("surface %q is not bound", role)
		}
		switch role {
		case CompactInput, ExpandedInput:
			in, ok := s.(InputSurface)
			if !ok {
				return Bindings{}, errors.Errorf("surface %q is not an input", role)
			}
			if role == CompactInput {
				b.CompactInput = in
			} else {
				b.ExpandedInput = in
			}
		case CompactTranscript, ExpandedTranscript:
			tr, ok := s.(TranscriptSurface)
			if !ok {
				return Bindings{}, errors.Errorf("surface %q is not a transcript", role)
			}
			if role == CompactTranscript {
				b.CompactTranscript = tr
			} else {
				b.ExpandedTranscript = tr
			}
		}
	}
	return b, nil
}

// View reconciles the bound surfaces with the session. Render is the only
// entry point and may be called any number of times.
type View struct {
	b       Bindings
	open    bool
	focused SurfaceRole
	layout  Layout
}

func NewView(b Bindings) *View {
	return &View{b: b, open: true}
}

func (v *View) Open() bool { return v.open }

func (v *View) SetOpen(open bool) { v.open = open }

func (v *View) Layout() Layout { return v.layout }

// Render computes the layout, sets the visibility of all four surfaces, and
// renders the transcript into both transcript surfaces.
func (v *View) Render(s Session, placeholder *string) Layout {
	layout := LayoutCompact
	if s.IsExpanded() {
		layout = LayoutExpanded
	}
	v.layout = layout

	compact := v.open && layout == LayoutCompact
	expanded := v.open && layout == LayoutExpanded
	setVisible(v.b.CompactInput, compact)
	setVisible(v.b.CompactTranscript, compact)
	setVisible(v.b.ExpandedInput, expanded)
	setVisible(v.b.ExpandedTranscript, expanded)

	entries := transcript(s, placeholder)
	v.b.CompactTranscript.SetEntries(entries)
	v.b.ExpandedTranscript.SetEntries(entries)

	target := SurfaceRole("")
	if v.open {
		target = CompactInput
		if layout == LayoutExpanded {
			target = ExpandedInput
		}
	}
	if target != v.focused {
		if in := v.input(v.focused); in != nil {
			in.Blur()
		}
		if in := v.input(target); in != nil {
			in.Focus()
		}
		v.focused = target
	}
	return layout
}

func (v *View) input(role SurfaceRole) InputSurface {
	switch role {
	case CompactInput:
		return v.b.CompactInput
	case ExpandedInput:
		return v.b.ExpandedInput
	}
	return nil
}

func setVisible(s Surface, visible bool) {
	if s.Visible() != visible {
		s.SetVisible(visible)
	}
}

func transcript(s Session, placeholder *string) []Entry {
	out := make([]Entry, 0, len(s.Messages)+1)
	for _, m := range s.Messages {
		out = append(out, Entry{Role: m.Role, Text: m.Text})
	}
	if placeholder != nil {
		out = append(out, Entry{Role: RoleAssistant, Text: *placeholder, Pending: true})
	}
	return out
}

// MemorySurface is a Surface kept in memory. It backs the terminal UI and
// tests; Changes counts effective mutations.
type MemorySurface struct {
	mu      sync.Mutex
	width   int
	visible bool
	focused bool
	entries []Entry
	changes int
	focuses int
}

var (
	_ InputSurface      = &MemorySurface{}
	_ TranscriptSurface = &MemorySurface{}
)

func NewMemorySurface(width int) *MemorySurface {
	return &MemorySurface{width: width}
}

func (m *MemorySurface) SetVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visible == visible {
		return
	}
	m.visible = visible
	m.changes++
}

func (m *MemorySurface) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

func (m *MemorySurface) Focus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focused = true
	m.focuses++
}

func (m *MemorySurface) Focused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

func (m *MemorySurface) Blur() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focused = false
}

func (m *MemorySurface) Width() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width
}

func (m *MemorySurface) SetWidth(width int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.width == width {
		return
	}
	m.width = width
	m.changes++
}

func (m *MemorySurface) SetEntries(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Equal(m.entries, entries) {
		return
	}
	m.entries = append([]Entry(nil), entries...)
	m.changes++
}

func (m *MemorySurface) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func (m *MemorySurface) Changes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changes
}

func (m *MemorySurface) Focuses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focuses
}

// MemoryBindings creates four memory surfaces: the compact pair at compactWidth
// and the expanded pair at expandedWidth.
func MemoryBindings(compactWidth, expandedWidth int) (Bindings, map[SurfaceRole]*MemorySurface) {
	surfaces := map[SurfaceRole]*MemorySurface{
		CompactInput:       NewMemorySurface(compactWidth),
		CompactTranscript:  NewMemorySurface(compactWidth),
		ExpandedInput:      NewMemorySurface(expandedWidth),
		ExpandedTranscript: NewMemorySurface(expandedWidth),
	}
	b := Bindings{
		CompactInput:       surfaces[CompactInput],
		ExpandedInput:      surfaces[ExpandedInput],
		CompactTranscript:  surfaces[CompactTranscript],
		ExpandedTranscript: surfaces[ExpandedTranscript],
	}
	return b, surfaces
}

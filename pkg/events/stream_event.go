package events

import (
	"encoding/json"
)

// EventType tags a StreamEvent. The set is closed: relays never emit other values.
type EventType string

const (
	TypeTextDelta       EventType = "textDelta"
	TypeToolCallCreated EventType = "toolCallCreated"
	TypeToolCallDelta   EventType = "toolCallDelta"
	TypeMessageCreated  EventType = "messageCreated"
	TypeMessageDelta    EventType = "messageDelta"
	TypeEnd             EventType = "end"
	TypeError           EventType = "error"
)

// Known reports whether t is one of the relay event kinds.
func (t EventType) Known() bool {
	switch t {
	case TypeTextDelta, TypeToolCallCreated, TypeToolCallDelta,
		TypeMessageCreated, TypeMessageDelta, TypeEnd, TypeError:
		return true
	}
	return false
}

// Terminal reports whether t closes a turn.
func (t EventType) Terminal() bool {
	return t == TypeEnd || t == TypeError
}

// TextDelta is the payload of a textDelta event's delta and snapshot fields.
type TextDelta struct {
	Value       string            `json:"value"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

// LocalSource tags the messageCreated event that opens a Local Mode reply in
// the middle of a turn. Clients drop the text buffered before it.
const LocalSource = "local"

// MessageInfo is the part of a messageCreated payload the relay and the
// client read.
type MessageInfo struct {
	ID     string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	Source string `json:"source,omitempty"`
}

// StreamEvent is one frame of a turn's event stream.
//
// Payload fields are kept as raw JSON so vendor payloads pass through verbatim;
// the accessors below decode the parts the relay and the client care about.
type StreamEvent struct {
	Type     EventType       `json:"type"`
	Delta    json.RawMessage `json:"delta,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	ToolCall json.RawMessage `json:"toolCall,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func NewTextDelta(value, snapshot string) StreamEvent {
	d, _ := json.Marshal(TextDelta{Value: value})
	ev := StreamEvent{Type: TypeTextDelta, Delta: d}
	if snapshot != "" {
		s, _ := json.Marshal(TextDelta{Value: snapshot})
		ev.Snapshot = s
	}
	return ev
}

func NewMessageCreated(message any) StreamEvent {
	return StreamEvent{Type: TypeMessageCreated, Message: rawOf(message)}
}

// NewLocalSwitch builds the marker sent when a turn switches to Local Mode.
func NewLocalSwitch(messageID string) StreamEvent {
	return NewMessageCreated(MessageInfo{ID: messageID, Role: "assistant", Source: LocalSource})
}

func NewMessageDelta(delta any) StreamEvent {
	return StreamEvent{Type: TypeMessageDelta, Delta: rawOf(delta)}
}

func NewToolCallCreated(toolCall any) StreamEvent {
	return StreamEvent{Type: TypeToolCallCreated, ToolCall: rawOf(toolCall)}
}

func NewToolCallDelta(delta any) StreamEvent {
	return StreamEvent{Type: TypeToolCallDelta, Delta: rawOf(delta)}
}

func NewEnd() StreamEvent { return StreamEvent{Type: TypeEnd} }

func NewError(msg string) StreamEvent { return StreamEvent{Type: TypeError, Error: msg} }

// Text returns the delta text of a textDelta event.
// ok is false for other kinds and for a delta without a value.
func (e StreamEvent) Text() (string, bool) {
	if e.Type != TypeTextDelta || len(e.Delta) == 0 {
		return "", false
	}
	var d TextDelta
	if err := json.Unmarshal(e.Delta, &d); err != nil {
		return "", false
	}
	return d.Value, d.Value != ""
}

// SwitchesToLocal reports whether e is the Local Mode switch marker.
// Upstream messageCreated events carry no source and return false.
func (e StreamEvent) SwitchesToLocal() bool {
	if e.Type != TypeMessageCreated || len(e.Message) == 0 {
		return false
	}
	var m MessageInfo
	if err := json.Unmarshal(e.Message, &m); err != nil {
		return false
	}
	return m.Source == LocalSource
}

func rawOf(v any) json.RawMessage {
	switch vv := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return vv
	case []byte:
		return json.RawMessage(vv)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

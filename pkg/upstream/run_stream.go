package upstream

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

const maxVendorLine = 1 << 20

type runStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	tr      *translator
	pending []events.StreamEvent
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newRunStream(body io.ReadCloser) *runStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), maxVendorLine)
	return &runStream{body: body, scanner: sc, tr: newTranslator()}
}

func (s *runStream) Recv() (events.StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return events.StreamEvent{}, io.EOF
		}
		name, data, err := s.next()
		if err != nil {
			return events.StreamEvent{}, err
		}
		out, finished, err := s.tr.translate(name, data)
		if err != nil {
			return events.StreamEvent{}, opError("run stream", err)
		}
		s.pending = append(s.pending, out...)
		s.done = finished
	}
}

func (s *runStream) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.body.Close() })
	return s.closeErr
}

// next reads one vendor SSE event (event name plus joined data lines).
func (s *runStream) next() (string, []byte, error) {
	var name string
	var data []string
	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")
		if line == "" {
			if name == "" && len(data) == 0 {
				continue
			}
			return name, []byte(strings.Join(data, "\n")), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", nil, opError("run stream", err)
	}
	if name != "" || len(data) > 0 {
		return name, []byte(strings.Join(data, "\n")), nil
	}
	if s.tr.completed {
		return "", nil, io.EOF
	}
	return "", nil, opError("run stream", errors.New("stream closed before the run completed"))
}

// translator re-tags vendor run events as relay events. It tracks per-message
// text snapshots and which tool calls were already announced.
type translator struct {
	snapshots map[string]string
	toolCalls map[string]struct{}
	completed bool
}

func newTranslator() *translator {
	return &translator{
		snapshots: map[string]string{},
		toolCalls: map[string]struct{}{},
	}
}

type messageDeltaPayload struct {
	ID    string          `json:"id"`
	Delta json.RawMessage `json:"delta"`
}

type messageDeltaContent struct {
	Content []struct {
		Index int    `json:"index"`
		Type  string `json:"type"`
		Text  *struct {
			Value       string            `json:"value"`
			Annotations []json.RawMessage `json:"annotations,omitempty"`
		} `json:"text,omitempty"`
	} `json:"content"`
}

type stepDeltaPayload struct {
	ID    string `json:"id"`
	Delta struct {
		StepDetails struct {
			Type      string            `json:"type"`
			ToolCalls []json.RawMessage `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"delta"`
}

type runPayload struct {
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// translate returns the relay events for one vendor event and whether the run finished.
func (t *translator) translate(name string, data []byte) ([]events.StreamEvent, bool, error) {
	switch name {
	case "thread.message.created":
		if !json.Valid(data) {
			return nil, false, errors.Errorf("malformed %s payload", name)
		}
		return []events.StreamEvent{events.NewMessageCreated(json.RawMessage(data))}, false, nil

	case "thread.message.delta":
		var p messageDeltaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, false, errors.Wrapf(err, "malformed %s payload", name)
		}
		var c messageDeltaContent
		if len(p.Delta) > 0 {
			if err := json.Unmarshal(p.Delta, &c); err != nil {
				return nil, false, errors.Wrapf(err, "malformed %s delta", name)
			}
		}
		out := []events.StreamEvent{events.NewMessageDelta(p.Delta)}
		for _, part := range c.Content {
			if part.Type != "text" || part.Text == nil {
				continue
			}
			t.snapshots[p.ID] += part.Text.Value
			d, err := json.Marshal(events.TextDelta{Value: part.Text.Value, Annotations: part.Text.Annotations})
			if err != nil {
				return nil, false, err
			}
			s, err := json.Marshal(events.TextDelta{Value: t.snapshots[p.ID]})
			if err != nil {
				return nil, false, err
			}
			out = append(out, events.StreamEvent{Type: events.TypeTextDelta, Delta: d, Snapshot: s})
		}
		return out, false, nil

	case "thread.run.step.delta":
		var p stepDeltaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, false, errors.Wrapf(err, "malformed %s payload", name)
		}
		if p.Delta.StepDetails.Type != "tool_calls" {
			return nil, false, nil
		}
		var out []events.StreamEvent
		for _, raw := range p.Delta.StepDetails.ToolCalls {
			var tc struct {
				Index int `json:"index"`
			}
			if err := json.Unmarshal(raw, &tc); err != nil {
				return nil, false, errors.Wrapf(err, "malformed tool call in %s", name)
			}
			key := p.ID + ":" + strconv.Itoa(tc.Index)
			if _, seen := t.toolCalls[key]; seen {
				out = append(out, events.NewToolCallDelta(raw))
				continue
			}
			t.toolCalls[key] = struct{}{}
			out = append(out, events.NewToolCallCreated(raw))
		}
		return out, false, nil

	case "thread.run.completed", "thread.run.incomplete":
		t.completed = true
		return nil, true, nil

	case "done":
		if !t.completed {
			return nil, false, errors.New("stream done before the run completed")
		}
		return nil, true, nil

	case "thread.run.failed", "thread.run.cancelled", "thread.run.expired", "thread.run.requires_action":
		var p runPayload
		_ = json.Unmarshal(data, &p)
		if p.LastError != nil && p.LastError.Message != "" {
			return nil, false, errors.Errorf("%s: %s", name, p.LastError.Message)
		}
		return nil, false, errors.Errorf("run ended with %s", strings.TrimPrefix(name, "thread.run."))

	case "error":
		return nil, false, errors.Errorf("vendor error: %s", vendorErrorMessage(data))
	}
	return nil, false, nil
}

func vendorErrorMessage(data []byte) string {
	var wrapped struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Error != nil && wrapped.Error.Message != "" {
			return wrapped.Error.Message
		}
		if wrapped.Message != "" {
			return wrapped.Message
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "unknown"
}

package events

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

var (
	dataPrefix     = []byte("data:")
	frameSeparator = []byte("\n\n")
)

// EncodeFrame renders ev as a single `data: <json>\n\n` frame.
func EncodeFrame(ev StreamEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "marshal stream event")
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, frameSeparator...)
	return out, nil
}

// Decoder reassembles frames from arbitrarily split network chunks.
// It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	skipped int
}

// Feed appends chunk to the pending buffer and returns every event completed by it.
// Blocks that are not data frames or do not hold valid JSON are dropped.
func (d *Decoder) Feed(chunk []byte) []StreamEvent {
	if len(chunk) > 0 {
		d.buf = normalizeNewlines(append(d.buf, chunk...))
	}
	var out []StreamEvent
	for {
		idx := bytes.Index(d.buf, frameSeparator)
		if idx < 0 {
			break
		}
		block := d.buf[:idx]
		if ev, ok := d.parseBlock(block); ok {
			out = append(out, ev)
		}
		d.buf = d.buf[idx+len(frameSeparator):]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush parses whatever remains in the buffer, for streams that end without a
// trailing blank line.
func (d *Decoder) Flush() []StreamEvent {
	rest := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(rest) == 0 {
		return nil
	}
	if ev, ok := d.parseBlock(rest); ok {
		return []StreamEvent{ev}
	}
	return nil
}

// Skipped counts blocks dropped as unparseable so far.
func (d *Decoder) Skipped() int { return d.skipped }

func (d *Decoder) parseBlock(block []byte) (StreamEvent, bool) {
	var data [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		v := line[len(dataPrefix):]
		if len(v) > 0 && v[0] == ' ' {
			v = v[1:]
		}
		data = append(data, v)
	}
	if len(data) == 0 {
		if len(bytes.TrimSpace(block)) > 0 {
			d.skipped++
		}
		return StreamEvent{}, false
	}
	var ev StreamEvent
	if err := json.Unmarshal(bytes.Join(data, []byte("\n")), &ev); err != nil || ev.Type == "" {
		d.skipped++
		return StreamEvent{}, false
	}
	return ev, true
}

// normalizeNewlines folds CRLF into LF. A trailing CR is kept until the next
// chunk shows whether an LF follows it.
func normalizeNewlines(b []byte) []byte {
	if bytes.IndexByte(b, '\r') < 0 {
		return b
	}
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}

// Consume reads r chunk by chunk and calls handle for every decoded event, in order.
// It stops early when handle returns false. Reaching EOF is not an error.
func Consume(r io.Reader, handle func(StreamEvent) bool) error {
	var dec Decoder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if !handle(ev) {
					return nil
				}
			}
		}
		if err == io.EOF {
			for _, ev := range dec.Flush() {
				if !handle(ev) {
					return nil
				}
			}
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read event stream")
		}
	}
}

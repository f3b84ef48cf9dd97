package relay

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

// SSEWriter is a Sink writing `data:` frames to an HTTP response. Headers are
// sent with the first frame, so a handler can still answer with an error
// status as long as Started is false.
type SSEWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

var _ Sink = &SSEWriter{}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	return &SSEWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *SSEWriter) Started() bool { return s.started }

func (s *SSEWriter) Send(ev events.StreamEvent) error {
	frame, err := events.EncodeFrame(ev)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(frame); err != nil {
		return errors.Wrap(err, "write frame")
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return errors.Wrap(err, "flush frame")
	}
	return nil
}

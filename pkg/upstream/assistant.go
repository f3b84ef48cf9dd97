package upstream

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

// ErrUnavailable marks every failure talking to the vendor: missing credentials,
// transport errors, API errors, malformed payloads, failed runs.
var ErrUnavailable = errors.New("upstream unavailable")

// Error carries the failing operation and the vendor error. It matches ErrUnavailable.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "upstream " + e.Op + " failed"
	}
	return "upstream " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUnavailable }

func opError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Assistant is the slice of the vendor's thread/message/run API the relay consumes.
type Assistant interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, text string) (string, error)
	ListMessages(ctx context.Context, threadID string) (openai.MessagesList, error)
	StreamRun(ctx context.Context, threadID string) (RunStream, error)
}

// RunStream yields a run's events in vendor order, already re-tagged as relay events.
// Recv returns io.EOF once the run completed; any other error matches ErrUnavailable.
// Terminal events are never returned by Recv: the relay owns the end of a turn.
type RunStream interface {
	Recv() (events.StreamEvent, error)
	Close() error
}

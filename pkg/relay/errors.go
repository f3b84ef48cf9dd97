package relay

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument marks missing or malformed client input (HTTP 400).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable marks a failure talking to the vendor (HTTP 500,
	// or Local Mode for streaming).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// kindError tags err with one of the sentinels above while keeping err in the chain.
type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.kind.Error() + ": " + e.msg
	}
	return e.kind.Error() + ": " + e.msg + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// invalidArgument messages are shown to clients verbatim.
func invalidArgument(msg string) error {
	return &kindError{kind: ErrInvalidArgument, msg: msg}
}

func upstreamUnavailable(msg string, err error) error {
	return &kindError{kind: ErrUpstreamUnavailable, msg: msg, err: err}
}

// invalidArgumentMessage returns the client-facing message of an
// ErrInvalidArgument error, or fallback when err carries none.
func invalidArgumentMessage(err error, fallback string) string {
	var ke *kindError
	if errors.As(err, &ke) && ke.kind == ErrInvalidArgument && ke.msg != "" {
		return ke.msg
	}
	return fallback
}

package threadstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrThreadNotFound is returned when appending to or listing an unknown thread.
var ErrThreadNotFound = errors.New("thread not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a locally managed thread.
type Message struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Store keeps the threads the relay mints while running without upstream
// credentials. Messages are returned oldest first.
type Store interface {
	// CreateThread registers threadID. Creating a known thread is a no-op and
	// keeps its original timestamp.
	CreateThread(ctx context.Context, threadID string, createdAtMs int64) error
	HasThread(ctx context.Context, threadID string) (bool, error)
	AppendMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	Close() error
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.ThreadID) == "" {
		return errors.New("threadID is empty")
	}
	if strings.TrimSpace(msg.ID) == "" {
		return errors.New("message id is empty")
	}
	switch msg.Role {
	case RoleUser, RoleAssistant:
	default:
		return errors.Errorf("invalid role %q", msg.Role)
	}
	return nil
}

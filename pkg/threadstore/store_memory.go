package threadstore

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore is the default Store; it forgets everything on restart.
type InMemoryStore struct {
	mu       sync.Mutex
	threads  map[string]int64
	messages map[string][]Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:  map[string]int64{},
		messages: map[string][]Message{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateThread(_ context.Context, threadID string, createdAtMs int64) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("in-memory thread store: threadID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		s.threads[threadID] = createdAtMs
	}
	return nil
}

func (s *InMemoryStore) HasThread(_ context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[threadID]
	return ok, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return errors.Wrap(err, "in-memory thread store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[msg.ThreadID]; !ok {
		return errors.Wrapf(ErrThreadNotFound, "in-memory thread store: %s", msg.ThreadID)
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, threadID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, errors.Wrapf(ErrThreadNotFound, "in-memory thread store: %s", threadID)
	}
	return append([]Message(nil), s.messages[threadID]...), nil
}

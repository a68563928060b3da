package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of ConversationStore.
type MemoryStore struct {
	mu     sync.RWMutex
	limits Limits
	logs   map[string][]Message
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		limits: limits,
		logs:   make(map[string][]Message),
	}
}

// Append adds an entry to a conversation, creating it if needed.
func (s *MemoryStore) Append(ctx context.Context, key Key, role Role, author, content string) (Message, error) {
	msg, err := newMessage(key, role, author, content)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()
	log := append(s.logs[id], msg)
	s.logs[id] = copyMessages(tail(log, s.limits.LogLimit))

	return msg, nil
}

// Recent returns the newest entries of a conversation.
func (s *MemoryStore) Recent(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, storeErr("recent", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to prevent external modification
	return copyMessages(tail(s.logs[key.String()], s.limits.load(limit))), nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return storeErr("delete", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logs, key.String())
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of conversations in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

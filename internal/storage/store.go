// Package storage provides conversation storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single entry in a conversation log.
type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Author    string    `json:"author,omitempty" bson:"author,omitempty"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Key addresses one conversation log.
type Key struct {
	Platform string
	Channel  string
	// User is set only for conversations that are private to a user (web chats).
	User string
}

// String returns the canonical form, platform/channel or platform/user/channel.
func (k Key) String() string {
	if k.User != "" {
		return k.Platform + "/" + k.User + "/" + k.Channel
	}
	return k.Platform + "/" + k.Channel
}

// Scope is the key without its platform: channel or user/channel.
func (k Key) Scope() string {
	if k.User != "" {
		return k.User + "/" + k.Channel
	}
	return k.Channel
}

// Validate rejects keys that cannot be stored safely.
func (k Key) Validate() error {
	if k.Platform == "" {
		return errors.New("key has no platform")
	}
	if k.Channel == "" {
		return errors.New("key has no channel")
	}
	for _, part := range []string{k.Platform, k.Channel, k.User} {
		if part == "." || part == ".." {
			return fmt.Errorf("key component %q is not allowed", part)
		}
		if strings.Contains(part, "/") {
			return fmt.Errorf("key component %q contains '/'", part)
		}
	}
	return nil
}

// ParseKey parses the canonical string form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	var k Key
	switch len(parts) {
	case 2:
		k = Key{Platform: parts[0], Channel: parts[1]}
	case 3:
		k = Key{Platform: parts[0], User: parts[1], Channel: parts[2]}
	default:
		return Key{}, fmt.Errorf("invalid conversation key %q: want platform/channel or platform/user/channel", s)
	}
	if err := k.Validate(); err != nil {
		return Key{}, fmt.Errorf("invalid conversation key %q: %w", s, err)
	}
	return k, nil
}

// Limits bounds what a store retains and returns.
type Limits struct {
	// LogLimit is the maximum number of entries kept per conversation.
	LogLimit int
	// LoadLimit is the default number of entries returned by Recent.
	LoadLimit int
}

// DefaultLimits matches the shipped configuration.
var DefaultLimits = Limits{LogLimit: 100, LoadLimit: 10}

func (l Limits) load(limit int) int {
	if limit <= 0 {
		return l.LoadLimit
	}
	return limit
}

// ConversationStore provides storage for conversation history.
type ConversationStore interface {
	// Append adds an entry stamped with the current time and truncates the
	// log to the configured retention. The log is unchanged when it fails.
	Append(ctx context.Context, key Key, role Role, author, content string) (Message, error)

	// Recent returns up to limit of the newest entries, oldest first.
	// A limit <= 0 means the configured load limit.
	Recent(ctx context.Context, key Key, limit int) ([]Message, error)

	// Delete removes a conversation. Deleting a missing one is not an error.
	Delete(ctx context.Context, key Key) error

	// Close releases backend resources.
	Close() error
}

// StoreError reports a failed storage operation.
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, key Key, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// newMessage validates the inputs shared by every Append implementation.
func newMessage(key Key, role Role, author, content string) (Message, error) {
	if err := key.Validate(); err != nil {
		return Message{}, err
	}
	if !role.Valid() {
		return Message{}, fmt.Errorf("unknown role %q", role)
	}
	return Message{
		Role:      role,
		Author:    author,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}, nil
}

// tail returns the last n messages of msgs.
func tail(msgs []Message, n int) []Message {
	if n >= 0 && len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// BoltStore keeps every conversation as a JSON array in a single bbolt file,
// keyed by the canonical conversation key.
type BoltStore struct {
	db     *bolt.DB
	limits Limits
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, limits Limits, logger *slog.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db, limits: limits, logger: logger}, nil
}

// Append adds an entry inside a single write transaction.
func (s *BoltStore) Append(ctx context.Context, key Key, role Role, author, content string) (Message, error) {
	msg, err := newMessage(key, role, author, content)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	id := []byte(key.String())
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		log := s.decode(key, b.Get(id))
		enc, err := json.Marshal(tail(append(log, msg), s.limits.LogLimit))
		if err != nil {
			return err
		}
		return b.Put(id, enc)
	})
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}
	return msg, nil
}

// Recent returns the newest entries.
func (s *BoltStore) Recent(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, storeErr("recent", key, err)
	}

	var out []Message
	err := s.db.View(func(tx *bolt.Tx) error {
		// Get's result is only valid inside the transaction; decode copies it.
		out = tail(s.decode(key, tx.Bucket(conversationsBucket).Get([]byte(key.String()))), s.limits.load(limit))
		return nil
	})
	if err != nil {
		return nil, storeErr("recent", key, err)
	}
	return out, nil
}

// Delete removes a conversation.
func (s *BoltStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return storeErr("delete", key, err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete([]byte(key.String()))
	})
	if err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) decode(key Key, v []byte) []Message {
	if len(v) == 0 {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(v, &msgs); err != nil {
		// Skip malformed entries instead of failing the turn
		s.logger.Warn("Corrupt conversation record, starting empty", "key", key.String(), "error", err)
		return nil
	}
	return msgs
}

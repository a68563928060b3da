package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ireland-samantha/zia-gateway/internal/keylock"
)

// FileStore keeps one JSON array per conversation under a root directory:
// <root>/<platform>/<channel>.json or <root>/<platform>/<user>/<channel>.json.
type FileStore struct {
	root   string
	limits Limits
	locks  *keylock.Locker
	logger *slog.Logger
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, limits Limits, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{
		root:   root,
		limits: limits,
		locks:  keylock.New(),
		logger: logger,
	}, nil
}

func (s *FileStore) path(key Key) string {
	parts := []string{s.root, url.PathEscape(key.Platform)}
	if key.User != "" {
		parts = append(parts, url.PathEscape(key.User))
	}
	parts = append(parts, url.PathEscape(key.Channel)+".json")
	return filepath.Join(parts...)
}

// Append adds an entry and rewrites the conversation file atomically.
func (s *FileStore) Append(ctx context.Context, key Key, role Role, author, content string) (Message, error) {
	msg, err := newMessage(key, role, author, content)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	log := append(s.read(key), msg)
	if err := s.write(key, tail(log, s.limits.LogLimit)); err != nil {
		return Message{}, storeErr("append", key, err)
	}
	return msg, nil
}

// Recent returns the newest entries. An unreadable file yields no history.
func (s *FileStore) Recent(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, storeErr("recent", key, err)
	}
	return tail(s.read(key), s.limits.load(limit)), nil
}

// Delete removes the conversation file.
func (s *FileStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return storeErr("delete", key, err)
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storeErr("delete", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read(key Key) []Message {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to read conversation", "key", key.String(), "error", err)
		}
		return nil
	}

	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn("Corrupt conversation file, starting empty", "key", key.String(), "error", err)
		return nil
	}
	return msgs
}

// write replaces the file via temp file, fsync and rename.
func (s *FileStore) write(key Key, msgs []Message) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".conv-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

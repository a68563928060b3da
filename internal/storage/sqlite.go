package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conv_key TEXT NOT NULL,
		role TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conv_key ON messages(conv_key, id)`,
}

// SQLiteStore keeps one row per message.
type SQLiteStore struct {
	db     *sql.DB
	limits Limits
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string, limits Limits) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps the insert+trim transaction free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, limits: limits}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range sqliteMigrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts the entry and trims the conversation in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, key Key, role Role, author, content string) (Message, error) {
	msg, err := newMessage(key, role, author, content)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}
	defer tx.Rollback()

	id := key.String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (conv_key, role, author, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(msg.Role), msg.Author, msg.Content, msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conv_key = ? AND id NOT IN (
			SELECT id FROM messages WHERE conv_key = ? ORDER BY id DESC LIMIT ?
		)`,
		id, id, s.limits.LogLimit,
	)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, storeErr("append", key, err)
	}
	return msg, nil
}

// Recent returns the newest entries, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, storeErr("recent", key, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, author, content, created_at FROM (
			SELECT role, author, content, created_at, id
			FROM messages WHERE conv_key = ? ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`,
		key.String(), s.limits.load(limit),
	)
	if err != nil {
		return nil, storeErr("recent", key, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg  Message
			role string
			ts   int64
		)
		if err := rows.Scan(&role, &msg.Author, &msg.Content, &ts); err != nil {
			return nil, storeErr("recent", key, err)
		}
		msg.Role = Role(role)
		msg.Timestamp = time.Unix(0, ts).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("recent", key, err)
	}
	return messages, nil
}

// Delete removes every row of a conversation.
func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return storeErr("delete", key, err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conv_key = ?`, key.String()); err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

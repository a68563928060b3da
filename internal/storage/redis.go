package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation as a Redis list of JSON entries.
type RedisStore struct {
	client *redis.Client
	prefix string
	limits Limits
	logger *slog.Logger
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, limits Limits, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	return &RedisStore{
		client: client,
		prefix: opts.Prefix,
		limits: limits,
		logger: logger,
	}, nil
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

// Append pushes the entry and trims the list in one MULTI/EXEC.
func (s *RedisStore) Append(ctx context.Context, key Key, role Role, author, content string) (Message, error) {
	msg, err := newMessage(key, role, author, content)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}
	enc, err := json.Marshal(msg)
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}

	rk := s.redisKey(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, rk, enc)
		pipe.LTrim(ctx, rk, int64(-s.limits.LogLimit), -1)
		return nil
	})
	if err != nil {
		return Message{}, storeErr("append", key, err)
	}
	return msg, nil
}

// Recent returns the newest entries. Entries that fail to decode are skipped.
func (s *RedisStore) Recent(ctx context.Context, key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, storeErr("recent", key, err)
	}

	vals, err := s.client.LRange(ctx, s.redisKey(key), int64(-s.limits.load(limit)), -1).Result()
	if err != nil {
		return nil, storeErr("recent", key, err)
	}

	msgs := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			s.logger.Warn("Skipping corrupt conversation entry", "key", key.String(), "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Delete removes a conversation.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return storeErr("delete", key, err)
	}

	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

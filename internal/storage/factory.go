package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ireland-samantha/zia-gateway/internal/config"
)

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, limits Limits, logger *slog.Logger) (ConversationStore, error) {
	logger = logger.With("backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(limits), nil
	case config.BackendFile:
		return NewFileStore(cfg.Path, limits, logger)
	case config.BackendBolt:
		return NewBoltStore(filepath.Join(cfg.Path, "conversations.bolt"), limits, logger)
	case config.BackendSQLite:
		return NewSQLiteStore(filepath.Join(cfg.Path, "conversations.db"), limits)
	case config.BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, limits, logger)
	case config.BackendMongo:
		return NewMongoStore(ctx, MongoOptions{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, limits)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

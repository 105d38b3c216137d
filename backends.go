package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"projex/board"
	"projex/config"
	"projex/storage"
)

// backends holds the stores a command runs against.
type backends struct {
	store storage.Store
	// redis is nil for the memory backend without a Redis connection.
	redis     *redis.Client
	publisher board.EventPublisher
	closers   []func(context.Context) error
}

func openBackends(ctx context.Context, cfg config.Config, logger *log.Logger) (*backends, error) {
	b := &backends{}
	if cfg.Redis.ConnectionString != "" {
		rc, err := newRedisClient(ctx, cfg.Redis.ConnectionString)
		if err != nil {
			return nil, err
		}
		b.redis = rc
		b.closers = append(b.closers, func(context.Context) error { return rc.Close() })
	}

	var base storage.Backend
	switch cfg.Backend {
	case config.BackendMemory:
		b.store = storage.NewMemoryStore()
		logger.Warn("using in-memory document store; boards are lost on exit")
	case config.BackendTables:
		tb, err := storage.NewTableBackend(cfg.Storage.ConnectionString, cfg.Storage.Table)
		if err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("storage: %w", err)
		}
		base = tb
	case config.BackendMongo:
		mb, err := storage.NewMongoBackend(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("mongo: %w", err)
		}
		base = mb
		b.closers = append(b.closers, mb.Close)
	default:
		b.Close(ctx)
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if base != nil {
		if b.redis == nil {
			b.Close(ctx)
			return nil, errors.New("missing redis config: REDIS_CONNECTION_STRING")
		}
		cached := storage.NewCache(base, b.redis, cfg.Redis.CacheTTL)
		b.store = storage.NewPubSubStore(cached, b.redis, cfg.Redis.ChannelPrefix, logger)
	}

	if cfg.Storage.ConnectionString != "" && cfg.Storage.EventQueue != "" {
		qp, err := storage.NewQueuePublisher(cfg.Storage.ConnectionString, cfg.Storage.EventQueue)
		if err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("event queue: %w", err)
		}
		b.publisher = qp
	}
	return b, nil
}

// Close releases the backends in reverse order of opening.
func (b *backends) Close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			log.WithError(err).Warn("close backend")
		}
	}
	b.closers = nil
}

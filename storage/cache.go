package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Backend with Redis-backed caching for reads.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, path Path) (Document, error) {
	if doc, ok := c.loadFromCache(ctx, path); ok {
		return doc, nil
	}
	doc, err := c.base.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		c.store(ctx, path, doc)
	}
	return doc, nil
}

func (c *Cache) Set(ctx context.Context, path Path, doc Document, opts SetOptions) error {
	if err := c.base.Set(ctx, path, doc, opts); err != nil {
		return err
	}
	c.evict(ctx, path)
	return nil
}

func (c *Cache) Update(ctx context.Context, path Path, fields Document) error {
	if err := c.base.Update(ctx, path, fields); err != nil {
		return err
	}
	c.evict(ctx, path)
	return nil
}

func (c *Cache) Delete(ctx context.Context, path Path) error {
	if err := c.base.Delete(ctx, path); err != nil {
		return err
	}
	c.evict(ctx, path)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, path Path) (Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := cacheKey(path)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var doc Document
	if err := codec.Unmarshal(data, &doc); err != nil || doc == nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return doc, true
}

func (c *Cache) store(ctx context.Context, path Path, doc Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := codec.Marshal(doc)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cacheKey(path), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, path Path) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, cacheKey(path)).Err()
}

func cacheKey(path Path) string {
	return "doc:" + path.String()
}

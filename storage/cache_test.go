package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingBackend struct {
	*MemoryStore
	gets int
	err  error
}

func (c *countingBackend) Get(ctx context.Context, path Path) (Document, error) {
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.MemoryStore.Get(ctx, path)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheGetMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	base := &countingBackend{MemoryStore: NewMemoryStore()}
	path := TitlePath("p1")
	_ = base.Set(ctx, path, doc(t, map[string]any{"title": "Board"}), SetOptions{})

	cache := NewCache(base, client, time.Minute)
	for i := 0; i < 2; i++ {
		got, err := cache.Get(ctx, path)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got["title"]) != `"Board"` {
			t.Fatalf("unexpected document %v", got)
		}
	}
	if base.gets != 1 {
		t.Fatalf("expected 1 call to backend, got %d", base.gets)
	}
	if ttl := mr.TTL(cacheKey(path)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheDoesNotStoreAbsentDocuments(t *testing.T) {
	mr, client := newRedis(t)
	cache := NewCache(&countingBackend{MemoryStore: NewMemoryStore()}, client, time.Minute)

	got, err := cache.Get(context.Background(), TasksPath("p1"))
	if err != nil || got != nil {
		t.Fatalf("expected absent document, got %v %v", got, err)
	}
	if mr.Exists(cacheKey(TasksPath("p1"))) {
		t.Fatal("absent document was cached")
	}
}

func TestCacheEvictsOnWrite(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	base := &countingBackend{MemoryStore: NewMemoryStore()}
	path := TitlePath("p1")
	cache := NewCache(base, client, time.Minute)

	_ = cache.Set(ctx, path, doc(t, map[string]any{"title": "A"}), SetOptions{})
	if _, err := cache.Get(ctx, path); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !mr.Exists(cacheKey(path)) {
		t.Fatal("expected cached document")
	}

	if err := cache.Update(ctx, path, doc(t, map[string]any{"title": "B"})); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(cacheKey(path)) {
		t.Fatal("cache entry not evicted")
	}
	got, _ := cache.Get(ctx, path)
	if string(got["title"]) != `"B"` {
		t.Fatalf("stale read after update: %v", got)
	}
}

func TestCacheFallsBackWhenRedisUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	base := &countingBackend{MemoryStore: NewMemoryStore()}
	path := TitlePath("p1")
	_ = base.Set(ctx, path, doc(t, map[string]any{"title": "A"}), SetOptions{})
	mr.Close()

	got, err := NewCache(base, client, time.Minute).Get(ctx, path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got["title"]) != `"A"` {
		t.Fatalf("unexpected document %v", got)
	}
}

func TestCachePropagatesBackendErrors(t *testing.T) {
	_, client := newRedis(t)
	boom := errors.New("boom")
	cache := NewCache(&countingBackend{MemoryStore: NewMemoryStore(), err: boom}, client, time.Minute)
	if _, err := cache.Get(context.Background(), TitlePath("p1")); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

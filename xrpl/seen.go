package xrpl

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenCache remembers recently delivered transaction hashes so re-deliveries
// skip the ledger round trip. The ledger's unique key stays authoritative.
type SeenCache interface {
	// MarkSeen records hash and reports whether this is its first sighting.
	MarkSeen(ctx context.Context, hash string) (bool, error)
	// Forget drops hash so the next delivery is processed again.
	Forget(ctx context.Context, hash string) error
}

type MemorySeenCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemorySeenCache(ttl time.Duration) *MemorySeenCache {
	return &MemorySeenCache{ttl: ttl, now: time.Now, entries: make(map[string]time.Time)}
}

func (c *MemorySeenCache) MarkSeen(_ context.Context, hash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.entries[hash]; ok && now.Before(exp) {
		return false, nil
	}
	c.entries[hash] = now.Add(c.ttl)
	if len(c.entries) > 4096 {
		c.evict(now)
	}
	return true, nil
}

func (c *MemorySeenCache) Forget(_ context.Context, hash string) error {
	c.mu.Lock()
	delete(c.entries, hash)
	c.mu.Unlock()
	return nil
}

func (c *MemorySeenCache) evict(now time.Time) {
	for h, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, h)
		}
	}
}

const seenKeyPrefix = "xrpfi:seen:"

// RedisSeenCache shares the seen set between listener replicas with SET NX.
type RedisSeenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSeenCache(rdb *redis.Client, ttl time.Duration) *RedisSeenCache {
	return &RedisSeenCache{rdb: rdb, ttl: ttl}
}

func (c *RedisSeenCache) MarkSeen(ctx context.Context, hash string) (bool, error) {
	return c.rdb.SetNX(ctx, seenKeyPrefix+hash, 1, c.ttl).Result()
}

func (c *RedisSeenCache) Forget(ctx context.Context, hash string) error {
	return c.rdb.Del(ctx, seenKeyPrefix+hash).Err()
}

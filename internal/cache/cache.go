// Package cache provides the two-tier lookup cache: a fast bounded local
// tier and an optional shared tier persisted through the storage contract.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// Stats tracks hit/miss counters across both tiers.
type Stats struct {
	LocalHits  int64
	SharedHits int64
	Misses     int64
}

// HitRate returns the fraction of lookups served from either tier.
func (s Stats) HitRate() float64 {
	total := s.LocalHits + s.SharedHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.LocalHits+s.SharedHits) / float64(total)
}

// Config bounds the local tier and sets the shared tier's TTL stretch.
type Config struct {
	// LocalMaxEntries bounds the local LRU tier.
	LocalMaxEntries int
	// SharedTTL overrides the caller TTL for the shared tier when
	// non-zero; the shared tier typically outlives the process.
	SharedTTL time.Duration
}

// Cache is safe for concurrent use. Get checks local first, then the
// shared tier (when configured), repopulating local on a shared hit.
// Set writes to both tiers. Values are opaque serialized bytes so they
// round-trip the shared tier unchanged.
type Cache struct {
	shared    domain.SharedCacheRepository
	sharedTTL time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	stats   Stats
}

type localEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// New creates a cache. shared may be nil to run local-only.
func New(cfg Config, shared domain.SharedCacheRepository, logger *slog.Logger) *Cache {
	if cfg.LocalMaxEntries <= 0 {
		cfg.LocalMaxEntries = 10000
	}
	return &Cache{
		shared:    shared,
		sharedTTL: cfg.SharedTTL,
		logger:    logger,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		maxSize:   cfg.LocalMaxEntries,
	}
}

// Get returns the cached value for key, consulting local then shared.
// Shared-tier errors degrade to a miss; the cache never fails a lookup.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.localGet(key); ok {
		c.mu.Lock()
		c.stats.LocalHits++
		c.mu.Unlock()
		return value, true
	}

	if c.shared != nil {
		value, ok, err := c.shared.Get(ctx, key)
		if err != nil {
			c.logger.Warn("shared cache read failed", "key", key, "error", err)
		} else if ok {
			c.mu.Lock()
			c.stats.SharedHits++
			c.mu.Unlock()
			c.localSet(key, value, c.sharedTTL)
			return value, true
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return nil, false
}

// Set writes the value to the local tier with ttl and mirrors it to the
// shared tier (with the shared TTL when configured).
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.localSet(key, value, ttl)

	if c.shared != nil {
		sharedTTL := ttl
		if c.sharedTTL > 0 {
			sharedTTL = c.sharedTTL
		}
		if err := c.shared.Set(ctx, key, value, int64(sharedTTL/time.Second)); err != nil {
			c.logger.Warn("shared cache write failed", "key", key, "error", err)
		}
	}
}

// Invalidate removes all keys matching the glob-style pattern from both
// tiers.
func (c *Cache) Invalidate(ctx context.Context, pattern string) {
	c.mu.Lock()
	for key, elem := range c.entries {
		if matched, _ := path.Match(pattern, key); matched {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if c.shared != nil {
		if _, err := c.shared.DeleteLike(ctx, pattern); err != nil {
			c.logger.Warn("shared cache invalidate failed", "pattern", pattern, "error", err)
		}
	}
}

// PurgeShared removes expired rows from the shared tier, returning the
// number purged. A no-op without a shared tier.
func (c *Cache) PurgeShared(ctx context.Context) (int64, error) {
	if c.shared == nil {
		return 0, nil
	}
	return c.shared.PurgeExpired(ctx)
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of entries in the local tier, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) localGet(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*localEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		// Expired entries are logically absent.
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

func (c *Cache) localSet(key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*localEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&localEntry{key: key, value: value, expiresAt: expiresAt})

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*localEntry).key)
	}
}

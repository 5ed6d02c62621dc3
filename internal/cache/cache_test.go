package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/bcdannyboy/SharepointAudit/internal/db"
	"github.com/bcdannyboy/SharepointAudit/internal/db/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCache_LocalHitAndMiss(t *testing.T) {
	c := New(Config{LocalMaxEntries: 10}, nil, testLogger())
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"), time.Minute)
	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(value))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.LocalHits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)
}

func TestCache_ExpiredEntriesAreAbsent(t *testing.T) {
	c := New(Config{LocalMaxEntries: 10}, nil, testLogger())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(Config{LocalMaxEntries: 3}, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, ok := c.Get(ctx, "k0")
	require.True(t, ok)

	c.Set(ctx, "k3", []byte("v"), time.Minute)

	_, ok = c.Get(ctx, "k1")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(ctx, "k0")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCache_SharedTierRepopulatesLocal(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	shared := repository.NewCacheRepo(writeDB)
	ctx := context.Background()

	// Seed the shared tier from a "previous process".
	first := New(Config{LocalMaxEntries: 10, SharedTTL: time.Hour}, shared, testLogger())
	first.Set(ctx, "group:g1", []byte(`["u1"]`), time.Minute)

	// A fresh cache has an empty local tier but hits the shared one.
	second := New(Config{LocalMaxEntries: 10, SharedTTL: time.Hour}, shared, testLogger())
	value, ok := second.Get(ctx, "group:g1")
	require.True(t, ok)
	assert.Equal(t, `["u1"]`, string(value))
	assert.Equal(t, int64(1), second.Stats().SharedHits)

	// The hit repopulated the local tier.
	_, ok = second.Get(ctx, "group:g1")
	require.True(t, ok)
	assert.Equal(t, int64(1), second.Stats().LocalHits)
}

func TestCache_InvalidateBothTiers(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	shared := repository.NewCacheRepo(writeDB)
	ctx := context.Background()

	c := New(Config{LocalMaxEntries: 10, SharedTTL: time.Hour}, shared, testLogger())
	c.Set(ctx, "group:g1", []byte("a"), time.Minute)
	c.Set(ctx, "group:g2", []byte("b"), time.Minute)
	c.Set(ctx, "site:s1", []byte("c"), time.Minute)

	c.Invalidate(ctx, "group:*")

	_, ok := c.Get(ctx, "group:g1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "site:s1")
	assert.True(t, ok)

	_, found, err := shared.Get(ctx, "group:g2")
	require.NoError(t, err)
	assert.False(t, found)
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCachePutGet(t *testing.T) {
	c := NewLRUCache(10, time.Hour)

	c.Put("a", 1)
	value, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2, time.Hour)

	c.Put("a", 1)
	c.Put("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCachePutRefreshesRecency(t *testing.T) {
	c := NewLRUCache(2, time.Hour)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)

	value, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, value)
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(10, time.Hour)

	c.PutWithTTL("short", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok, "expired entry should not be returned")
	assert.Equal(t, 0, c.Size(), "expired entry should be removed on access")
}

func TestLRUCacheCleanupExpired(t *testing.T) {
	c := NewLRUCache(10, time.Hour)

	c.PutWithTTL("short1", 1, 10*time.Millisecond)
	c.PutWithTTL("short2", 2, 10*time.Millisecond)
	c.Put("long", 3)

	time.Sleep(20 * time.Millisecond)

	removed := c.CleanupExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Size())
}

func TestLRUCacheInvalidate(t *testing.T) {
	c := NewLRUCache(10, time.Hour)

	c.Put("a", 1)
	assert.True(t, c.Invalidate("a"))
	assert.False(t, c.Invalidate("a"))

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUCacheStats(t *testing.T) {
	c := NewLRUCache(10, time.Hour)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.GetStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache(10, time.Hour)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Clear()

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestAnalysisCacheKeyNormalization(t *testing.T) {
	key1 := Key("sourced", "Hello   World")
	key2 := Key("sourced", "hello world")
	key3 := Key("sourced", "  HELLO\tworld  ")

	assert.Equal(t, key1, key2, "whitespace and case differences should collapse to one key")
	assert.Equal(t, key1, key3)

	other := Key("basic", "hello world")
	assert.NotEqual(t, key1, other, "variant must partition the key space")

	different := Key("sourced", "hello there")
	assert.NotEqual(t, key1, different)
}

func TestAnalysisCacheRoundTrip(t *testing.T) {
	c := NewAnalysisCache(10, time.Hour)

	c.Put("sourced", "Patient has a headache.", "result-value")

	value, ok := c.Get("sourced", "patient   HAS a headache.")
	require.True(t, ok, "normalized transcript should hit the same entry")
	assert.Equal(t, "result-value", value)

	_, ok = c.Get("basic", "Patient has a headache.")
	assert.False(t, ok)

	assert.True(t, c.Invalidate("sourced", "patient has a headache."))
	_, ok = c.Get("sourced", "Patient has a headache.")
	assert.False(t, ok)
}

func TestSessionCacheStoreIsolation(t *testing.T) {
	store := NewSessionCacheStore(5, time.Hour)

	store.GetOrCreate("conn-1").Put("last_analysis", "one")
	store.GetOrCreate("conn-2").Put("last_analysis", "two")

	value, ok := store.GetOrCreate("conn-1").Get("last_analysis")
	require.True(t, ok)
	assert.Equal(t, "one", value)

	assert.Equal(t, 2, store.SessionCount())

	store.Clear("conn-1")
	assert.Equal(t, 1, store.SessionCount())

	_, ok = store.GetOrCreate("conn-1").Get("last_analysis")
	assert.False(t, ok, "cleared session cache should start empty")
}

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is a single cache entry tracked on the LRU list.
type entry struct {
	key         string
	value       interface{}
	createdAt   time.Time
	ttl         time.Duration
	accessCount int64
	element     *list.Element
}

// expired reports whether the entry's TTL has passed. A zero TTL means the
// entry never expires.
func (e *entry) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.Sub(e.createdAt) > e.ttl
}

// Stats holds cache performance counters.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// LRUCache is a thread-safe LRU cache with per-entry TTL. Expired entries
// return a miss on read and are purged lazily; both Get and Put refresh
// recency. All operations serialize through a single mutex.
type LRUCache struct {
	mu         sync.Mutex
	items      map[string]*entry
	lruList    *list.List
	maxSize    int
	defaultTTL time.Duration
	hits       int64
	misses     int64
}

// NewLRUCache creates an LRU cache holding at most maxSize entries, each
// expiring after defaultTTL unless overridden per entry.
func NewLRUCache(maxSize int, defaultTTL time.Duration) *LRUCache {
	return &LRUCache{
		items:      make(map[string]*entry),
		lruList:    list.New(),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a value from the cache and refreshes its recency.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if item.expired(time.Now()) {
		c.removeEntry(item)
		c.misses++
		return nil, false
	}

	c.lruList.MoveToFront(item.element)
	item.accessCount++
	c.hits++

	return item.value, true
}

// Put adds or replaces a value using the cache's default TTL.
func (c *LRUCache) Put(key string, value interface{}) {
	c.PutWithTTL(key, value, c.defaultTTL)
}

// PutWithTTL adds or replaces a value with an explicit TTL. Inserting past
// capacity evicts the least-recently-accessed entry.
func (c *LRUCache) PutWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.items[key]; exists {
		existing.value = value
		existing.createdAt = time.Now()
		existing.ttl = ttl
		c.lruList.MoveToFront(existing.element)
		return
	}

	item := &entry{
		key:       key,
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
	}
	item.element = c.lruList.PushFront(item)
	c.items[key] = item

	for len(c.items) > c.maxSize {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeEntry(oldest.Value.(*entry))
	}
}

// Invalidate removes a key, reporting whether it was present.
func (c *LRUCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeEntry(item)
	return true
}

// CleanupExpired removes all expired entries and returns the count removed.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*entry
	for _, item := range c.items {
		if item.expired(now) {
			toRemove = append(toRemove, item)
		}
	}
	for _, item := range toRemove {
		c.removeEntry(item)
	}
	return len(toRemove)
}

// Clear removes all entries and resets the counters.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lruList.Init()
	c.hits = 0
	c.misses = 0
}

// Size returns the current number of entries.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// GetStats returns a snapshot of the cache counters.
func (c *LRUCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:    len(c.items),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// removeEntry removes an entry from both the map and the LRU list.
// The lock must be held.
func (c *LRUCache) removeEntry(item *entry) {
	delete(c.items, item.key)
	c.lruList.Remove(item.element)
}

package cache

import (
	"sync"
	"time"
)

// SessionCacheStore hands out small per-session caches for session-scoped
// lookups. Caches are created lazily on first access and dropped on Clear;
// the controller holds the only live handle per active session.
type SessionCacheStore struct {
	mu         sync.Mutex
	sessions   map[string]*LRUCache
	maxEntries int
	ttl        time.Duration
}

// NewSessionCacheStore creates a store whose per-session caches hold at
// most maxEntries entries with the given TTL.
func NewSessionCacheStore(maxEntries int, ttl time.Duration) *SessionCacheStore {
	return &SessionCacheStore{
		sessions:   make(map[string]*LRUCache),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// GetOrCreate returns the cache for the session, creating it on first use.
func (s *SessionCacheStore) GetOrCreate(sessionID string) *LRUCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, exists := s.sessions[sessionID]
	if !exists {
		cache = NewLRUCache(s.maxEntries, s.ttl)
		s.sessions[sessionID] = cache
	}
	return cache
}

// Clear drops the session's cache immediately.
func (s *SessionCacheStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cache, exists := s.sessions[sessionID]; exists {
		cache.Clear()
		delete(s.sessions, sessionID)
	}
}

// CleanupAll purges expired entries in every session cache, returning the
// per-session counts for sessions that had any.
func (s *SessionCacheStore) CleanupAll() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]int)
	for sessionID, cache := range s.sessions {
		if count := cache.CleanupExpired(); count > 0 {
			removed[sessionID] = count
		}
	}
	return removed
}

// SessionCount returns the number of live session caches.
func (s *SessionCacheStore) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stats returns read-only store statistics for the health surface.
func (s *SessionCacheStore) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := 0
	for _, cache := range s.sessions {
		entries += cache.Size()
	}
	return map[string]interface{}{
		"sessions":      len(s.sessions),
		"total_entries": entries,
	}
}

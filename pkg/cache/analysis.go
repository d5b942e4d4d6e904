package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Variant tags for analysis cache keys.
const (
	VariantBasic   = "basic"
	VariantSourced = "sourced"
)

// AnalysisCache is a content-addressed cache for analysis results, keyed by
// analysis variant plus normalized transcript. Two transcripts that differ
// only in casing or whitespace share an entry, so retried analyses of
// cosmetically different input hit the same result.
type AnalysisCache struct {
	cache *LRUCache
}

// NewAnalysisCache creates an analysis cache with the given capacity and TTL.
func NewAnalysisCache(maxSize int, ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{
		cache: NewLRUCache(maxSize, ttl),
	}
}

// normalizeTranscript lowercases and collapses all whitespace runs so
// cosmetic differences do not produce distinct keys.
func normalizeTranscript(transcript string) string {
	return strings.Join(strings.Fields(strings.ToLower(transcript)), " ")
}

// Key derives the fixed-width cache key for a variant/transcript pair.
func Key(variant, transcript string) string {
	sum := sha256.Sum256([]byte(variant + ":" + normalizeTranscript(transcript)))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached analysis result for the transcript, if present.
func (a *AnalysisCache) Get(variant, transcript string) (interface{}, bool) {
	return a.cache.Get(Key(variant, transcript))
}

// Put stores an analysis result for the transcript.
func (a *AnalysisCache) Put(variant, transcript string, result interface{}) {
	a.cache.Put(Key(variant, transcript), result)
}

// PutWithTTL stores an analysis result with an explicit TTL.
func (a *AnalysisCache) PutWithTTL(variant, transcript string, result interface{}, ttl time.Duration) {
	a.cache.PutWithTTL(Key(variant, transcript), result, ttl)
}

// Invalidate removes the cached result for the transcript, reporting
// whether an entry was removed.
func (a *AnalysisCache) Invalidate(variant, transcript string) bool {
	return a.cache.Invalidate(Key(variant, transcript))
}

// CleanupExpired purges expired entries, returning the count removed.
func (a *AnalysisCache) CleanupExpired() int {
	return a.cache.CleanupExpired()
}

// GetStats returns the underlying cache counters.
func (a *AnalysisCache) GetStats() Stats {
	return a.cache.GetStats()
}

package oracle

import (
	"sync"
	"time"
)

// cacheEntry represents a cached classification.
type cacheEntry struct {
	expiry   time.Time
	response ClassificationResponse
}

// responseCache provides thread-safe caching for oracle responses, keyed by
// normalized item title, so identical items within a run cost one call.
type responseCache struct {
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

// newResponseCache creates a new cache with the specified TTL.
func newResponseCache(ttl time.Duration) *responseCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// get retrieves a response from the cache if it exists and hasn't expired.
func (c *responseCache) get(key string) (ClassificationResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return ClassificationResponse{}, false
	}

	return entry.response, true
}

// set stores a response in the cache.
func (c *responseCache) set(key string, response ClassificationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		response: response,
		expiry:   time.Now().Add(c.ttl),
	}
}

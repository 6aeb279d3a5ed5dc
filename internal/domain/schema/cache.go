package schema

import (
	"sync"
	"time"
)

// resultCache holds validation results for a fixed TTL. The cache is
// advisory only: an expired entry always forces re-validation.
type resultCache struct {
	mu      sync.RWMutex
	results map[string]cachedResult
	ttl     time.Duration
	now     func() time.Time
}

type cachedResult struct {
	result    *Result
	expiresAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		results: make(map[string]cachedResult),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *resultCache) get(key string) (*Result, bool) {
	c.mu.RLock()
	entry, ok := c.results[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// refreshed the entry in the meantime.
		if current, ok := c.results[key]; ok && c.now().After(current.expiresAt) {
			delete(c.results, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = cachedResult{
		result:    result,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Len returns the number of cached results, expired or not.
func (c *resultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

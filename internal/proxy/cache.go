package proxy

import (
	"net/http"
	"sync"
	"time"
)

// CachedResponse is a last-known-good backend response, replayable while the
// backend is short-circuited.
type CachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// FallbackCache keeps the most recent successful response per backend+path.
// Only safe methods are ever cached; a stale read beats a hard failure for
// those, and nothing else.
type FallbackCache struct {
	mu      sync.RWMutex
	entries map[string]CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption configures a FallbackCache.
type CacheOption func(*FallbackCache)

// WithCacheClock overrides the time source for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *FallbackCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewFallbackCache creates a cache whose entries expire after ttl.
func NewFallbackCache(ttl time.Duration, opts ...CacheOption) *FallbackCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &FallbackCache{
		entries: make(map[string]CachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores a response, replacing any previous entry for the key.
func (c *FallbackCache) Put(key string, resp CachedResponse) {
	resp.StoredAt = c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resp
}

// Get returns the cached response if one exists and has not expired.
func (c *FallbackCache) Get(key string) (CachedResponse, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return CachedResponse{}, false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return CachedResponse{}, false
	}
	return entry, true
}

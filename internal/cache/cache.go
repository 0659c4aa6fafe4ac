package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CachedResponse represents a cached completion
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from a system role and user prompt
func GenerateCacheKey(systemRole, userPrompt string) string {
	h := sha256.New()
	h.Write([]byte(systemRole))
	h.Write([]byte{0})
	h.Write([]byte(userPrompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cache holds completions for a fixed time to live.
type Cache struct {
	ttl     time.Duration
	entries sync.Map
	now     func() time.Time
}

// New returns a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// Get returns the unexpired response stored under key.
func (c *Cache) Get(key string) (string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.now().Sub(cached.Timestamp) >= c.ttl {
		c.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

// Put stores response under key.
func (c *Cache) Put(key, response string) {
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
}

// Prune drops every expired entry and returns how many were removed.
func (c *Cache) Prune() int {
	removed := 0
	now := c.now()
	c.entries.Range(func(key, val any) bool {
		if now.Sub(val.(CachedResponse).Timestamp) >= c.ttl {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Run prunes expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

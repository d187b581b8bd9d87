// Package discovery resolves ecosystem library names to cards: repository
// metadata from the GitHub API or entries from a configured card index.
package discovery

import (
	"sync"
	"time"
)

// cacheEntry holds a cached value with a timestamp for TTL expiration.
type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL expiration.
// Expired entries are cleaned up lazily on Get(); no background goroutine.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewCache creates a new cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Expired; clean up lazily.
		// Re-check under write lock: a concurrent Set() may have replaced
		// the entry with a fresh one between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Set stores a value with the current timestamp.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		value:     value,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}

// Len returns the number of live entries, counting expired ones that have
// not been touched yet.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

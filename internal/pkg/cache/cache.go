// Package cache provides a TTL cache for backend reads with generation-checked
// writes, so a read that started before an invalidation cannot repopulate it.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize bounds the number of cached responses.
const DefaultSize = 1024

// Cache is a concurrency-safe TTL cache keyed by request path.
type Cache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, any]
	gen uint64
}

// New creates a cache whose entries live for ttl. A non-positive ttl turns
// the cache off; size <= 0 uses DefaultSize.
func New(ttl time.Duration, size int) *Cache {
	c := &Cache{}
	if ttl <= 0 {
		return c
	}
	if size <= 0 {
		size = DefaultSize
	}
	c.lru = expirable.NewLRU[string, any](size, nil, ttl)
	return c
}

// Enabled reports whether values are stored at all.
func (c *Cache) Enabled() bool {
	return c.lru != nil
}

// Get returns a live value for key.
func (c *Cache) Get(key string) (any, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Generation returns the current invalidation generation. Pass it to
// SetAt once the value read under it is ready.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}

// Set stores value under key unconditionally.
func (c *Cache) Set(key string, value any) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, value)
}

// SetAt stores value under key only if no invalidation happened since gen
// was taken. It reports whether the value was stored.
func (c *Cache) SetAt(gen uint64, key string, value any) bool {
	if c.lru == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	c.lru.Add(key, value)
	return true
}

// DeleteByPrefix removes all keys that start with prefix and starts a new
// generation.
func (c *Cache) DeleteByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.lru == nil {
		return
	}
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Clear removes every entry and starts a new generation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.lru != nil {
		c.lru.Purge()
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// ABOUTME: Generic size- and time-bounded key/value cache.
// ABOUTME: One instance per concern: recent messages, search results, synthesized audio.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores a cached value with its insertion timestamp and list element.
type entry[V any] struct {
	value     V
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited key/value cache.
// When capacity is exceeded the entry with the oldest timestamp is evicted.
// A TTL of zero disables time-based expiry; entries then age out only by
// capacity eviction. Uses a doubly-linked list to maintain insertion order
// for O(1) eviction.
type Cache[V any] struct {
	mu       sync.RWMutex
	entries  map[string]*entry[V]
	order    *list.List // keys in insertion order, oldest at front
	ttl      time.Duration
	capacity int
	done     chan struct{}
	closed   bool
}

// New creates a cache with the given capacity and TTL. A background goroutine
// periodically removes expired entries. A capacity of zero disables the cache:
// every Put is dropped and every Get is a miss.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		entries:  make(map[string]*entry[V]),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

// Get returns the cached value for key if present and not expired.
// Expiry is checked against a single time.Now() captured at call entry.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && now.Sub(e.timestamp) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

// Put inserts or refreshes a value. If the cache is at capacity and key is
// new, the oldest entry is evicted first.
func (c *Cache[V]) Put(key string, value V) {
	if c.capacity == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// Refresh existing key in place and move it to the back of the order.
	if e, exists := c.entries[key]; exists {
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry[V]{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// Invalidate removes a single key, if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
}

// Len returns the number of entries currently held, including any that have
// expired but not yet been swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the entry at the front of the insertion order.
// Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.timestamp) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

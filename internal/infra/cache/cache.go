// Package cache provides a small in-memory TTL cache used for short-lived
// lookups (route targets, external CRM reads). Entries expire after a fixed
// per-cache TTL; expired entries are dropped lazily on read and swept
// periodically so the map does not hold dead values between reads.
package cache

import (
	"sync"
	"time"
)

type item[T any] struct {
	value    T
	deadline time.Time
}

func (i item[T]) expired(now time.Time) bool {
	return now.After(i.deadline)
}

// InMemory is a thread-safe TTL cache keyed by string.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]item[T]
	ttl   time.Duration
}

// New creates a cache whose entries live for ttl. A sweeper goroutine runs
// for the lifetime of the process at the same cadence.
func New[T any](ttl time.Duration) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]item[T]),
		ttl:   ttl,
	}
	go c.sweep()
	return c
}

// Get returns the cached value for key, or false when absent or expired.
// An expired entry is removed on the spot.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}
	if it.expired(time.Now()) {
		c.Delete(key)
		var zero T
		return zero, false
	}
	return it.value, true
}

// Set stores value under key with the cache's TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	c.items[key] = item[T]{value: value, deadline: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes key, expired or not.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *InMemory[T]) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for now := range ticker.C {
		c.mu.Lock()
		for k, it := range c.items {
			if it.expired(now) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}

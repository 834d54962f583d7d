// Package cache provides the in-memory tier in front of the local database.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
)

// Config bounds a Keyed cache.
type Config struct {
	MaxEntries int           // LRU bound, must be > 0
	TTL        time.Duration // Max age since last access, 0 disables
	Clock      clockwork.Clock
}

type entry[V any] struct {
	value      V
	accessedAt time.Time
}

// Keyed is a thread-safe cache bounded by entry count (LRU) and by age since
// last access. Expired entries are evicted synchronously by Get and Put.
//
// Access order and recency order are the same list, so the least recently
// used entry is always the one accessed longest ago and expiry sweeps only
// ever pop from the tail.
type Keyed[K comparable, V any] struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[K, entry[V]]
	ttl   time.Duration
	clock clockwork.Clock
}

// NewKeyed creates a cache with the given bounds.
func NewKeyed[K comparable, V any](cfg Config) (*Keyed[K, V], error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be greater than 0")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("ttl must not be negative")
	}
	lru, err := simplelru.NewLRU[K, entry[V]](cfg.MaxEntries, nil)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Keyed[K, V]{lru: lru, ttl: cfg.TTL, clock: clock}, nil
}

// Get returns the value for key and refreshes its access time.
func (c *Keyed[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.sweep(now)

	ent, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	ent.accessedAt = now
	c.lru.Add(key, ent)
	return ent.value, true
}

// Put stores value for key, evicting the least recently used entry on overflow.
func (c *Keyed[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.sweep(now)
	c.lru.Add(key, entry[V]{value: value, accessedAt: now})
}

// Remove drops key from the cache.
func (c *Keyed[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *Keyed[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(c.clock.Now())
	return c.lru.Len()
}

// Purge empties the cache.
func (c *Keyed[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// sweep evicts expired entries. Must be called with mu held.
func (c *Keyed[K, V]) sweep(now time.Time) {
	if c.ttl == 0 {
		return
	}
	for {
		_, oldest, ok := c.lru.GetOldest()
		if !ok || now.Sub(oldest.accessedAt) <= c.ttl {
			return
		}
		c.lru.RemoveOldest()
	}
}

// Package memorycache implements the MemoryCache module (§4.2): a
// bounded, concurrent, cooperative LRU over typed domain values with
// optional TTL expiry driven by an injected clock.
//
// Directly adapted from the donor's cache-manager/cache.go L1Cache —
// same map + container/list + single mutex shape, same lazy-expiry-on-
// Get and bounds-checked-evict-before-insert discipline — generalized
// from a string-keyed interface{} cache to a generic Cache[K, V], with
// time sourced from an injected clock.Clock instead of time.Now() so
// tests can drive TTL/LRU behavior without sleeping, per §4.2's
// "tests drive a virtual clock without sleeping" requirement.
package memorycache

import (
	"container/list"
	"sync"
	"time"

	"github.com/matt-ramotar/storex/pkg/clock"
)

// Infinite disables TTL expiry entirely, matching the spec's
// Duration::INFINITE sentinel.
const Infinite time.Duration = -1

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
	element    *list.Element
}

// Cache is a bounded LRU with optional TTL over (K, V) pairs. One
// mutex guards both the map and the usage-order list for every
// operation — per §4.2 the contract is correctness, not
// read-without-locking performance.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[K]*entry[K, V]
	order   *list.List
	maxSize int
	ttl     time.Duration
}

// Option configures a Cache at construction.
type Option[K comparable, V any] func(*Cache[K, V])

// WithClock injects a clock, defaulting to clock.System().
func WithClock[K comparable, V any](c clock.Clock) Option[K, V] {
	return func(cache *Cache[K, V]) { cache.clock = c }
}

// New constructs a Cache bounded to maxSize entries with the given
// TTL (memorycache.Infinite to disable expiry).
func New[K comparable, V any](maxSize int, ttl time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		clock:   clock.System(),
		entries: make(map[K]*entry[K, V], maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, promoting it to
// most-recently-used on a hit. An expired entry (inserted_at + ttl <
// now, when ttl is finite) is removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	if c.ttl != Infinite && c.clock.Now().After(e.insertedAt.Add(c.ttl)) {
		c.removeLocked(key)
		var zero V
		return zero, false
	}

	c.order.MoveToFront(e.element)
	return e.value, true
}

// Put inserts or updates key's value. Inserting a new key at capacity
// evicts the least-recently-used entry first (bounds-checked so an
// empty cache never trips); updating an existing key never evicts and
// refreshes its insertion time and recency.
func (c *Cache[K, V]) Put(key K, value V) (isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.insertedAt = now
		c.order.MoveToFront(e.element)
		return false
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	e := &entry[K, V]{key: key, value: value, insertedAt: now}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
	return true
}

// Remove deletes key, reporting whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(key)
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[K, V], c.maxSize)
	c.order = list.New()
}

// Size returns the current number of entries.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RemoveMatching removes every entry whose key satisfies pred,
// returning the number removed. Used by namespace-prefix invalidation
// where K is a StoreKey's canonical string form.
func (c *Cache[K, V]) RemoveMatching(pred func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []K
	for k := range c.entries {
		if pred(k) {
			toRemove = append(toRemove, k)
		}
	}
	for _, k := range toRemove {
		c.removeLocked(k)
	}
	return len(toRemove)
}

func (c *Cache[K, V]) removeLocked(key K) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(e.element)
	delete(c.entries, key)
	return true
}

// evictOldestLocked evicts the least-recently-used entry. Bounds
// checked: an empty list must not trip this (invariant 3's "empty
// state must not trip" concern from §4.2).
func (c *Cache[K, V]) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry[K, V])
	c.order.Remove(back)
	delete(c.entries, e.key)
}

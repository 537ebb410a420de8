// Package keymutex implements the KeyMutex module (§4.4): per-key
// serialization of writes to the Source of Truth, backed by a bounded
// LRU of mutex handles so the registry does not grow without bound
// across a Store's lifetime, per §9's "implement as a bounded LRU of
// mutex handles... a simple refcount gate suffices" design note.
//
// The LRU bookkeeping (map + container/list + single registry mutex)
// is the same shape as the donor's cache-manager/cache.go L1Cache;
// unlike MemoryCache, the "value" here is a long-lived *sync.Mutex
// handle rather than a domain value, and eviction additionally
// consults a per-handle refcount so a handle currently held (or
// awaited) can never be evicted out from under its holder.
package keymutex

import (
	"container/list"
	"sync"
	"sync/atomic"
)

type handle struct {
	mu       sync.Mutex
	refCount int32
	element  *list.Element
	key      string
}

// KeyMutex is a bounded registry of per-key mutex handles.
type KeyMutex struct {
	mu       sync.Mutex
	handles  map[string]*handle
	order    *list.List
	capacity int
}

// DefaultCapacity is the spec's suggested default (§4.4).
const DefaultCapacity = 1000

// New constructs a KeyMutex bounded to capacity handles. A capacity
// <= 0 disables bounding (handles are never evicted).
func New(capacity int) *KeyMutex {
	return &KeyMutex{
		handles:  make(map[string]*handle),
		order:    list.New(),
		capacity: capacity,
	}
}

// Lock acquires the per-key critical section for key. Acquiring the
// handle is a suspension point (§5): if another goroutine already
// holds it, this call blocks until it is released. It returns an
// Unlock function the caller must invoke exactly once to release the
// section.
func (km *KeyMutex) Lock(key string) (unlock func()) {
	h := km.acquireHandle(key)
	h.mu.Lock()
	return func() { km.releaseHandle(h) }
}

// acquireHandle finds or creates the handle for key, pins it (so it
// cannot be evicted while referenced), and promotes it to
// most-recently-used.
func (km *KeyMutex) acquireHandle(key string) *handle {
	km.mu.Lock()
	defer km.mu.Unlock()

	if h, ok := km.handles[key]; ok {
		km.order.MoveToFront(h.element)
		atomic.AddInt32(&h.refCount, 1)
		return h
	}

	if km.capacity > 0 && len(km.handles) >= km.capacity {
		km.evictOneUnlockedLocked()
	}

	h := &handle{key: key, refCount: 1}
	h.element = km.order.PushFront(h)
	km.handles[key] = h
	return h
}

// releaseHandle unlocks the handle's mutex and unpins it. A handle
// whose refcount drops to zero becomes eligible for eviction again.
func (km *KeyMutex) releaseHandle(h *handle) {
	h.mu.Unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	atomic.AddInt32(&h.refCount, -1)
}

// evictOneUnlockedLocked evicts the least-recently-used handle whose
// refcount is zero. Eviction must never pick a handle currently held
// or awaited (refcount > 0): if every handle is in use, the registry
// is allowed to temporarily grow past capacity rather than violate
// that invariant. Must be called with km.mu held.
func (km *KeyMutex) evictOneUnlockedLocked() {
	for e := km.order.Back(); e != nil; e = e.Prev() {
		h := e.Value.(*handle)
		if atomic.LoadInt32(&h.refCount) == 0 {
			km.order.Remove(e)
			delete(km.handles, h.key)
			return
		}
	}
}

// Size reports the number of handles currently registered. Exposed
// for tests and the Store's Stats() snapshot.
func (km *KeyMutex) Size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.handles)
}

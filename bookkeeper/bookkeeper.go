// Package bookkeeper implements the Bookkeeper module: a concurrent
// per-key record of last-success/last-failure/etag/backoff state that
// the FreshnessValidator consults when planning a fetch.
//
// Grounded on the donor's cache-manager/service.go Metrics struct (a
// mutex/atomic-protected map of per-key counters) and its
// runTTLCleanup background-sweep shape, generalized from aggregate
// counters to per-key KeyStatus records.
package bookkeeper

import (
	"sync"
	"time"

	"github.com/matt-ramotar/storex/storekey"
)

// KeyStatus is the bookkeeping record for one key (§3). All fields
// are optional; the zero value represents "never recorded".
type KeyStatus struct {
	LastSuccessAt time.Time
	LastFailureAt time.Time
	LastEtag      string
	BackoffUntil  time.Time
}

// HasLastSuccess reports whether a success was ever recorded.
func (s KeyStatus) HasLastSuccess() bool { return !s.LastSuccessAt.IsZero() }

// HasLastFailure reports whether a failure was ever recorded.
func (s KeyStatus) HasLastFailure() bool { return !s.LastFailureAt.IsZero() }

// HasBackoff reports whether a backoff window was ever recorded.
func (s KeyStatus) HasBackoff() bool { return !s.BackoffUntil.IsZero() }

// Bookkeeper is a concurrent map keyed by StoreKey's canonical string
// form (StoreKey itself may embed a slice field and so is not a valid
// Go map key; CanonicalString is the order-independent stand-in).
type Bookkeeper struct {
	mu       sync.RWMutex
	statuses map[string]KeyStatus
}

// New constructs an empty Bookkeeper.
func New() *Bookkeeper {
	return &Bookkeeper{statuses: make(map[string]KeyStatus)}
}

// RecordSuccess records a successful fetch for key at the given time,
// optionally updating the last-known etag. A success clears any
// previously recorded backoff window, since the fetch plainly
// succeeded past it.
func (b *Bookkeeper) RecordSuccess(key storekey.StoreKey, etag string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.statuses[key.CanonicalString()]
	s.LastSuccessAt = at
	if etag != "" {
		s.LastEtag = etag
	}
	s.BackoffUntil = time.Time{}
	b.statuses[key.CanonicalString()] = s
}

// RecordFailure records a failed fetch for key at the given time. The
// cause is accepted for symmetry with the spec's record_failure(key,
// cause, at) signature but is not retained by the bookkeeper itself
// (callers that want failure causes surfaced to readers do so via the
// StoreResult.Error path, not via bookkeeping).
func (b *Bookkeeper) RecordFailure(key storekey.StoreKey, cause error, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.statuses[key.CanonicalString()]
	s.LastFailureAt = at
	b.statuses[key.CanonicalString()] = s
}

// SetBackoffUntil records an explicit backoff window for key, as
// populated by an error-handling layer (e.g. a circuit breaker wrapped
// Fetcher) rather than by RecordFailure itself (§4.5, §9).
func (b *Bookkeeper) SetBackoffUntil(key storekey.StoreKey, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.statuses[key.CanonicalString()]
	s.BackoffUntil = until
	b.statuses[key.CanonicalString()] = s
}

// LastStatus returns the KeyStatus for key, or a zero-valued status
// if none has ever been recorded — the spec requires this never
// return an absent/optional variant.
func (b *Bookkeeper) LastStatus(key storekey.StoreKey) KeyStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statuses[key.CanonicalString()]
}

// Forget removes all bookkeeping for key. Used by invalidate(key) and
// by rekey to drop stale state for a retired provisional key.
func (b *Bookkeeper) Forget(key storekey.StoreKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.statuses, key.CanonicalString())
}

// Size reports the number of keys with recorded bookkeeping state.
// Exposed for the Store's Stats() snapshot (§12 supplemented feature).
func (b *Bookkeeper) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.statuses)
}

package mutationstore

import (
	"sync"
	"time"

	"github.com/matt-ramotar/storex/storekey"
)

// KeyAliasMap resolves a provisional key to whatever canonical key it
// was rekeyed to, so a caller still holding the provisional key after
// create() succeeds keeps resolving to the right place (§4.9 step 4:
// "subsequent lookups of provisional resolve to canonical").
type KeyAliasMap struct {
	mu      sync.RWMutex
	aliases map[string]storekey.StoreKey
}

// NewKeyAliasMap constructs an empty alias map.
func NewKeyAliasMap() *KeyAliasMap {
	return &KeyAliasMap{aliases: make(map[string]storekey.StoreKey)}
}

// Record registers that provisional now resolves to canonical.
func (m *KeyAliasMap) Record(provisional, canonical storekey.StoreKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[provisional.CanonicalString()] = canonical
}

// Resolve returns the canonical key a (possibly provisional) key
// resolves to, following alias chains, and whether any alias was
// found. Callers that get ok==false should use key as-is.
func (m *KeyAliasMap) Resolve(key storekey.StoreKey) (storekey.StoreKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := key
	found := false
	// Bounded to the map's size so a corrupt alias cycle cannot spin
	// forever.
	for i := 0; i < len(m.aliases)+1; i++ {
		next, ok := m.aliases[cur.CanonicalString()]
		if !ok {
			break
		}
		cur = next
		found = true
	}
	return cur, found
}

// Forget removes a provisional key's alias entry, used once a
// provisional key's lifetime is over (e.g. the create ultimately
// failed).
func (m *KeyAliasMap) Forget(provisional storekey.StoreKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.aliases, provisional.CanonicalString())
}

// Tombstones is the companion map {key -> expires_at} recording
// recently deleted keys so a late reappearance from a stale read is
// filtered until the tombstone expires (§4.9).
type Tombstones struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewTombstones constructs an empty tombstone map.
func NewTombstones() *Tombstones {
	return &Tombstones{expires: make(map[string]time.Time)}
}

// Mark records key as tombstoned until now+ttl.
func (t *Tombstones) Mark(key storekey.StoreKey, now time.Time, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires[key.CanonicalString()] = now.Add(ttl)
}

// IsTombstoned reports whether key is currently within its tombstone
// window. An expired entry is lazily evicted and reported as not
// tombstoned.
func (t *Tombstones) IsTombstoned(key storekey.StoreKey, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ck := key.CanonicalString()
	until, ok := t.expires[ck]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(t.expires, ck)
		return false
	}
	return true
}

// Clear removes key's tombstone outright (e.g. a later create for the
// same key should not stay filtered).
func (t *Tombstones) Clear(key storekey.StoreKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expires, key.CanonicalString())
}

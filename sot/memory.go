package sot

import (
	"sync"

	"context"

	"github.com/matt-ramotar/storex/storekey"
)

// Memory is the in-memory SourceOfTruth reference implementation
// (§4.6), suitable for tests and cache-only stores. It owns its state
// directly (no external storage engine) and reads ReadProjection and
// WriteValue as the same type, which is the common case for a pure
// in-memory double.
type Memory[V any] struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	values map[string]*V
	bc     *broadcaster[V]
}

// NewMemory constructs an empty in-memory SourceOfTruth.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		values: make(map[string]*V),
		bc:     newBroadcaster[V](),
	}
}

func (m *Memory[V]) Reader(ctx context.Context, key storekey.StoreKey) (<-chan *V, func()) {
	ck := key.CanonicalString()

	m.mu.Lock()
	ch, id := m.bc.subscribe(ck)
	current := m.values[ck]
	m.mu.Unlock()

	trySend(ch, current)

	cancel := func() {
		m.mu.Lock()
		m.bc.unsubscribe(ck, id)
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Memory[V]) Write(ctx context.Context, key storekey.StoreKey, value V) error {
	ck := key.CanonicalString()

	m.mu.Lock()
	m.values[ck] = &value
	subs := m.bc.snapshot(ck)
	m.mu.Unlock()

	for _, ch := range subs {
		trySend(ch, &value)
	}
	return nil
}

func (m *Memory[V]) Delete(ctx context.Context, key storekey.StoreKey) error {
	ck := key.CanonicalString()

	m.mu.Lock()
	delete(m.values, ck)
	subs := m.bc.snapshot(ck)
	m.mu.Unlock()

	for _, ch := range subs {
		trySend(ch, nil)
	}
	return nil
}

// WithTransaction serializes fn against every other transaction on
// this store. Resource release is guaranteed via defer on every exit
// path, including a panic unwinding through fn.
func (m *Memory[V]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx)
}

func (m *Memory[V]) Rekey(ctx context.Context, old, new storekey.StoreKey, reconcile func(oldValue, existingNew *V) (*V, error)) error {
	oldCK, newCK := old.CanonicalString(), new.CanonicalString()

	m.mu.Lock()
	oldVal := m.values[oldCK]
	existingNew := m.values[newCK]
	merged, err := reconcile(oldVal, existingNew)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	delete(m.values, oldCK)
	m.values[newCK] = merged

	// Subscribers of old receive one terminal nil and nothing more
	// (their key no longer exists); subscribers already watching new
	// receive the merged value. Old's subscriber set is dropped
	// rather than renamed onto new, since a caller watching old
	// should not start silently observing new under a different
	// identity — it observed the key's retirement and is done.
	oldSubs := m.bc.snapshot(oldCK)
	delete(m.bc.subs, oldCK)
	newSubs := m.bc.snapshot(newCK)
	m.mu.Unlock()

	for _, ch := range oldSubs {
		trySend(ch, nil)
	}
	for _, ch := range newSubs {
		trySend(ch, merged)
	}
	return nil
}

package sot

import (
	"context"
	"sync"

	"github.com/matt-ramotar/storex/storekey"
)

// SimpleReadFunc reads the current value for key from whatever
// storage the caller owns. A nil, nil return means "no value".
type SimpleReadFunc[V any] func(ctx context.Context, key storekey.StoreKey) (*V, error)

// SimpleWriteFunc durably persists value for key.
type SimpleWriteFunc[V any] func(ctx context.Context, key storekey.StoreKey, value V) error

// SimpleDeleteFunc removes key's value.
type SimpleDeleteFunc[V any] func(ctx context.Context, key storekey.StoreKey) error

// Simple is the "simple" SourceOfTruth reference implementation
// (§4.6): a thin reactive wrapper over user-supplied read/write/delete
// closures. Unlike Memory, Simple does not own the data itself — the
// closures do — it only owns the broadcaster that makes the
// caller-supplied storage reactive, since an arbitrary read/write/
// delete triplet has no way to notify subscribers on its own.
type Simple[V any] struct {
	read   SimpleReadFunc[V]
	write  SimpleWriteFunc[V]
	delete SimpleDeleteFunc[V]

	mu   sync.Mutex
	txMu sync.Mutex
	bc   *broadcaster[V]
}

// NewSimple constructs a Simple SourceOfTruth backed by the given
// closures.
func NewSimple[V any](read SimpleReadFunc[V], write SimpleWriteFunc[V], del SimpleDeleteFunc[V]) *Simple[V] {
	return &Simple[V]{read: read, write: write, delete: del, bc: newBroadcaster[V]()}
}

func (s *Simple[V]) Reader(ctx context.Context, key storekey.StoreKey) (<-chan *V, func()) {
	ck := key.CanonicalString()

	s.mu.Lock()
	ch, id := s.bc.subscribe(ck)
	s.mu.Unlock()

	// The initial read is a suspension point (§5): it may call
	// through to a real storage engine, unlike Memory's in-process
	// map lookup.
	current, err := s.read(ctx, key)
	if err != nil {
		current = nil
	}
	trySend(ch, current)

	cancel := func() {
		s.mu.Lock()
		s.bc.unsubscribe(ck, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Simple[V]) Write(ctx context.Context, key storekey.StoreKey, value V) error {
	if err := s.write(ctx, key, value); err != nil {
		return err
	}
	ck := key.CanonicalString()
	s.mu.Lock()
	subs := s.bc.snapshot(ck)
	s.mu.Unlock()
	for _, ch := range subs {
		trySend(ch, &value)
	}
	return nil
}

func (s *Simple[V]) Delete(ctx context.Context, key storekey.StoreKey) error {
	if err := s.delete(ctx, key); err != nil {
		return err
	}
	ck := key.CanonicalString()
	s.mu.Lock()
	subs := s.bc.snapshot(ck)
	s.mu.Unlock()
	for _, ch := range subs {
		trySend(ch, nil)
	}
	return nil
}

// WithTransaction serializes fn against every other transaction
// issued through this Simple instance. Real transactional semantics
// for the underlying storage are the caller's responsibility — the
// closures it supplied to NewSimple are the storage engine, and this
// type has no visibility into whether they are themselves
// transactional; this guarantees only the core's own serialization
// contract (scoped acquisition, guaranteed release on every exit path).
func (s *Simple[V]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}

func (s *Simple[V]) Rekey(ctx context.Context, old, new storekey.StoreKey, reconcile func(oldValue, existingNew *V) (*V, error)) error {
	oldVal, err := s.read(ctx, old)
	if err != nil {
		return err
	}
	existingNew, err := s.read(ctx, new)
	if err != nil {
		return err
	}

	merged, err := reconcile(oldVal, existingNew)
	if err != nil {
		return err
	}

	if merged != nil {
		if err := s.write(ctx, new, *merged); err != nil {
			return err
		}
	} else if err := s.delete(ctx, new); err != nil {
		return err
	}
	if err := s.delete(ctx, old); err != nil {
		return err
	}

	oldCK, newCK := old.CanonicalString(), new.CanonicalString()
	s.mu.Lock()
	oldSubs := s.bc.snapshot(oldCK)
	delete(s.bc.subs, oldCK)
	newSubs := s.bc.snapshot(newCK)
	s.mu.Unlock()

	for _, ch := range oldSubs {
		trySend(ch, nil)
	}
	for _, ch := range newSubs {
		trySend(ch, merged)
	}
	return nil
}

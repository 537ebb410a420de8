package sot

import (
	"context"
	"testing"
	"time"

	"github.com/matt-ramotar/storex/storekey"
)

func k(id string) storekey.StoreKey {
	return storekey.ByIdKey{NS: "users", Type: "user", ID: id}
}

func recv(t *testing.T, ch <-chan *string, timeout time.Duration) *string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for value")
		return nil
	}
}

func TestMemoryReaderReplaysCurrentValueOnSubscribe(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()

	if err := m.Write(ctx, k("1"), "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}

	ch, cancel := m.Reader(ctx, k("1"))
	defer cancel()

	v := recv(t, ch, time.Second)
	if v == nil || *v != "hello" {
		t.Fatalf("got %v, want hello", v)
	}
}

func TestMemoryReaderObservesSubsequentWrites(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()

	ch, cancel := m.Reader(ctx, k("1"))
	defer cancel()

	initial := recv(t, ch, time.Second)
	if initial != nil {
		t.Fatalf("expected nil initial value, got %v", initial)
	}

	if err := m.Write(ctx, k("1"), "world"); err != nil {
		t.Fatalf("write: %v", err)
	}
	v := recv(t, ch, time.Second)
	if v == nil || *v != "world" {
		t.Fatalf("got %v, want world", v)
	}
}

func TestMemoryDeleteEmitsNil(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()

	if err := m.Write(ctx, k("1"), "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	ch, cancel := m.Reader(ctx, k("1"))
	defer cancel()
	recv(t, ch, time.Second) // initial replay

	if err := m.Delete(ctx, k("1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	v := recv(t, ch, time.Second)
	if v != nil {
		t.Fatalf("expected nil after delete, got %v", v)
	}
}

func TestMemoryWithTransactionSerializes(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()

	order := make(chan int, 2)
	done := make(chan struct{})

	go func() {
		_ = m.WithTransaction(ctx, func(ctx context.Context) error {
			order <- 1
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	_ = m.WithTransaction(ctx, func(ctx context.Context) error {
		order <- 2
		return nil
	})
	<-done
	close(order)

	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("transactions did not serialize in order: got %d, %d", first, second)
	}
}

func TestMemoryWithTransactionReleasesOnPanic(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = m.WithTransaction(ctx, func(ctx context.Context) error {
			panic("boom")
		})
	}()

	released := make(chan struct{})
	go func() {
		_ = m.WithTransaction(ctx, func(ctx context.Context) error { return nil })
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatalf("transaction lock was not released after a panic")
	}
}

// TestMemoryRekeyAtomicity verifies testable property 9: subscribers
// of new see exactly one merged value, and subscribers of old see a
// single terminal change.
func TestMemoryRekeyAtomicity(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()

	oldKey, newKey := k("old"), k("new")
	if err := m.Write(ctx, oldKey, "old-value"); err != nil {
		t.Fatalf("write old: %v", err)
	}
	if err := m.Write(ctx, newKey, "new-value"); err != nil {
		t.Fatalf("write new: %v", err)
	}

	oldCh, oldCancel := m.Reader(ctx, oldKey)
	defer oldCancel()
	newCh, newCancel := m.Reader(ctx, newKey)
	defer newCancel()

	recv(t, oldCh, time.Second) // initial replay: old-value
	recv(t, newCh, time.Second) // initial replay: new-value

	reconcile := func(oldValue, existingNew *string) (*string, error) {
		merged := *oldValue + "+" + *existingNew
		return &merged, nil
	}
	if err := m.Rekey(ctx, oldKey, newKey, reconcile); err != nil {
		t.Fatalf("rekey: %v", err)
	}

	oldTerminal := recv(t, oldCh, time.Second)
	if oldTerminal != nil {
		t.Fatalf("old subscriber should see a terminal nil, got %v", oldTerminal)
	}

	newMerged := recv(t, newCh, time.Second)
	if newMerged == nil || *newMerged != "old-value+new-value" {
		t.Fatalf("new subscriber got %v, want merged value", newMerged)
	}

	// Old's channel must not receive anything further: no merged value
	// after the terminal nil.
	select {
	case extra := <-oldCh:
		t.Fatalf("old subscriber received an unexpected extra value %v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	// A fresh subscriber to new after the rekey sees the merged value,
	// not a replay of the pre-rekey value.
	freshCh, freshCancel := m.Reader(ctx, newKey)
	defer freshCancel()
	fresh := recv(t, freshCh, time.Second)
	if fresh == nil || *fresh != "old-value+new-value" {
		t.Fatalf("fresh subscriber got %v, want merged value", fresh)
	}
}

func TestMemoryRekeyReconcileErrorLeavesStateUnchanged(t *testing.T) {
	m := NewMemory[string]()
	ctx := context.Background()
	oldKey, newKey := k("old"), k("new")
	_ = m.Write(ctx, oldKey, "old-value")

	wantErr := context.Canceled
	err := m.Rekey(ctx, oldKey, newKey, func(oldValue, existingNew *string) (*string, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	ch, cancel := m.Reader(ctx, oldKey)
	defer cancel()
	v := recv(t, ch, time.Second)
	if v == nil || *v != "old-value" {
		t.Fatalf("old key value mutated despite reconcile error: got %v", v)
	}
}

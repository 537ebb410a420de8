// Package postgres is a reference SourceOfTruth backed by
// github.com/jackc/pgx/v5's connection pool, demonstrating how a real
// storage engine plugs into the sot.SourceOfTruth contract (§4.6,
// §11's domain stack). It stores an opaque byte payload plus an etag
// and updated_at column per key, in a caller-named Postgres table with
// the column shape documented on Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-ramotar/storex/freshness"
	"github.com/matt-ramotar/storex/pkg/storeerr"
	"github.com/matt-ramotar/storex/storekey"
)

// Row is the persisted projection this reference implementation
// returns from Reader: an opaque payload plus the freshness metadata
// extracted from the row.
type Row struct {
	Payload   []byte
	Etag      string
	UpdatedAt time.Time
}

// Meta extracts freshness.EntityMeta from a Row, matching the shape a
// Converter.DbMetaFromProjection implementation expects.
func (r Row) Meta() *freshness.EntityMeta {
	return &freshness.EntityMeta{UpdatedAt: r.UpdatedAt, Etag: r.Etag}
}

// Store is a Postgres-backed sot.SourceOfTruth over a single table
// with columns (key text primary key, payload bytea, etag text,
// updated_at timestamptz). Reactivity is in-process only: writes made
// through other processes or direct SQL are not observed by live
// Readers, since Postgres LISTEN/NOTIFY wiring is left to the caller's
// deployment rather than assumed by this reference type.
type Store struct {
	pool  *pgxpool.Pool
	table string

	mu   sync.Mutex
	txMu sync.Mutex
	subs map[string]map[int]chan *Row
	next int
}

// New wraps an existing pool. table must already exist with the
// column shape documented on Store.
func New(pool *pgxpool.Pool, table string) *Store {
	return &Store{pool: pool, table: table, subs: make(map[string]map[int]chan *Row)}
}

func (s *Store) Reader(ctx context.Context, key storekey.StoreKey) (<-chan *Row, func()) {
	ck := key.CanonicalString()

	s.mu.Lock()
	if s.subs[ck] == nil {
		s.subs[ck] = make(map[int]chan *Row)
	}
	id := s.next
	s.next++
	ch := make(chan *Row, 1)
	s.subs[ck][id] = ch
	s.mu.Unlock()

	current, err := s.readRow(ctx, ck)
	if err != nil {
		current = nil
	}
	trySend(ch, current)

	cancel := func() {
		s.mu.Lock()
		delete(s.subs[ck], id)
		if len(s.subs[ck]) == 0 {
			delete(s.subs, ck)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) readRow(ctx context.Context, ck string) (*Row, error) {
	var row Row
	query := fmt.Sprintf(`SELECT payload, etag, updated_at FROM %s WHERE key = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, ck).Scan(&row.Payload, &row.Etag, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.New(storeerr.KindPersistenceRead, "read row", err)
	}
	return &row, nil
}

// Write upserts the row and assigns etag/updatedAt itself so the
// caller's clock never drifts from the database's. The Converter on
// the calling side is expected to supply payload bytes already
// serialized for storage.
func (s *Store) Write(ctx context.Context, key storekey.StoreKey, payload []byte) error {
	ck := key.CanonicalString()
	etag := fmt.Sprintf("%x", time.Now().UnixNano())

	query := fmt.Sprintf(`
		INSERT INTO %s (key, payload, etag, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET payload = $2, etag = $3, updated_at = now()
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, ck, payload, etag); err != nil {
		return storeerr.New(storeerr.KindPersistenceWrite, "write row", err)
	}

	row, err := s.readRow(ctx, ck)
	if err != nil {
		return err
	}
	s.mu.Lock()
	subs := snapshotLocked(s.subs, ck)
	s.mu.Unlock()
	for _, ch := range subs {
		trySend(ch, row)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key storekey.StoreKey) error {
	ck := key.CanonicalString()
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, ck); err != nil {
		return storeerr.New(storeerr.KindPersistenceDelete, "delete row", err)
	}

	s.mu.Lock()
	subs := snapshotLocked(s.subs, ck)
	s.mu.Unlock()
	for _, ch := range subs {
		trySend(ch, nil)
	}
	return nil
}

// WithTransaction holds txMu and a Postgres transaction opened with
// pgx.BeginFunc while fn runs; the transaction commits on a nil return
// and rolls back otherwise — including on panic, since BeginFunc
// recovers, rolls back, and re-panics. The pgx.Tx is not handed to
// fn, and Store's own Reader/Write/Delete go through the pool, so
// statements fn issues are not part of that transaction; what fn gets
// is serialization against other WithTransaction calls on this Store,
// released on every exit path.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx)
	})
}

func (s *Store) Rekey(ctx context.Context, old, new storekey.StoreKey, reconcile func(oldValue, existingNew *Row) (*Row, error)) error {
	oldCK, newCK := old.CanonicalString(), new.CanonicalString()

	var merged *Row
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		oldVal, err := s.readRowTx(ctx, tx, oldCK)
		if err != nil {
			return err
		}
		existingNew, err := s.readRowTx(ctx, tx, newCK)
		if err != nil {
			return err
		}

		merged, err = reconcile(oldVal, existingNew)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), oldCK); err != nil {
			return storeerr.New(storeerr.KindPersistenceDelete, "rekey delete old", err)
		}
		if merged == nil {
			_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), newCK)
			return err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (key, payload, etag, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (key) DO UPDATE SET payload = $2, etag = $3, updated_at = now()
		`, s.table), newCK, merged.Payload, merged.Etag)
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	oldSubs := snapshotLocked(s.subs, oldCK)
	delete(s.subs, oldCK)
	newSubs := snapshotLocked(s.subs, newCK)
	s.mu.Unlock()

	for _, ch := range oldSubs {
		trySend(ch, nil)
	}
	for _, ch := range newSubs {
		trySend(ch, merged)
	}
	return nil
}

func (s *Store) readRowTx(ctx context.Context, tx pgx.Tx, ck string) (*Row, error) {
	var row Row
	query := fmt.Sprintf(`SELECT payload, etag, updated_at FROM %s WHERE key = $1 FOR UPDATE`, s.table)
	err := tx.QueryRow(ctx, query, ck).Scan(&row.Payload, &row.Etag, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.New(storeerr.KindPersistenceRead, "read row for rekey", err)
	}
	return &row, nil
}

func snapshotLocked(subs map[string]map[int]chan *Row, ck string) []chan *Row {
	cur := subs[ck]
	out := make([]chan *Row, 0, len(cur))
	for _, ch := range cur {
		out = append(out, ch)
	}
	return out
}

func trySend(ch chan *Row, v *Row) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

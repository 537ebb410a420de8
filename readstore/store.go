package readstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/matt-ramotar/storex/bookkeeper"
	"github.com/matt-ramotar/storex/config"
	"github.com/matt-ramotar/storex/converter"
	"github.com/matt-ramotar/storex/fetcher"
	"github.com/matt-ramotar/storex/freshness"
	"github.com/matt-ramotar/storex/keymutex"
	"github.com/matt-ramotar/storex/memorycache"
	"github.com/matt-ramotar/storex/pkg/clock"
	"github.com/matt-ramotar/storex/pkg/storelog"
	"github.com/matt-ramotar/storex/sot"
	"github.com/matt-ramotar/storex/storekey"

	"github.com/matt-ramotar/storex/coalesce"
)

// cacheKey is the MemoryCache's map key: a StoreKey's canonical string
// plus its namespace, comparable (plain string fields) and carrying
// enough information for InvalidateNamespace's prefix match without
// re-parsing the canonical string.
type cacheKey struct {
	canonical string
	ns        storekey.Namespace
}

type cacheEntry[Domain any] struct {
	value      Domain
	insertedAt time.Time
}

// Deps bundles the collaborators a Store is constructed with (§6's
// "consumed from caller" list, minus the mutation-only pieces).
type Deps[Domain any, ReadProjection any, Network any, WriteValue any] struct {
	SoT       sot.SourceOfTruth[ReadProjection, WriteValue]
	Fetcher   fetcher.Fetcher[Network]
	Converter converter.Converter[storekey.StoreKey, Domain, ReadProjection, Network, WriteValue]
	Clock     clock.Clock // defaults to clock.System() if nil
	Logger    zerolog.Logger
}

// Store is the ReadStore (§4.8): stream, get, invalidate*, close.
type Store[Domain any, ReadProjection any, Network any, WriteValue any] struct {
	deps Deps[Domain, ReadProjection, Network, WriteValue]
	cfg  config.Config

	cache     *memorycache.Cache[cacheKey, cacheEntry[Domain]]
	bk        *bookkeeper.Bookkeeper
	km        *keymutex.KeyMutex
	sf        *coalesce.SingleFlight[struct{}]
	validator freshness.Validator
	log       zerolog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New constructs a Store with its own root task scope (§5): every
// Stream subscription opens a child scope of rootCtx, so Close cancels
// every outstanding subscription and its background fetch tasks.
func New[Domain any, ReadProjection any, Network any, WriteValue any](deps Deps[Domain, ReadProjection, Network, WriteValue], cfg config.Config) *Store[Domain, ReadProjection, Network, WriteValue] {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Store[Domain, ReadProjection, Network, WriteValue]{
		deps:       deps,
		cfg:        cfg,
		cache:      memorycache.New[cacheKey, cacheEntry[Domain]](cfg.MemoryCacheSize, cfg.MemoryCacheTTL, memorycache.WithClock[cacheKey, cacheEntry[Domain]](deps.Clock)),
		bk:         bookkeeper.New(),
		km:         keymutex.New(cfg.KeyMutexCapacity),
		sf:         coalesce.New[struct{}](),
		validator:  freshness.New(),
		log:        deps.Logger,
		rootCtx:    rootCtx,
		rootCancel: cancel,
	}
}

// Stats is the §12 supplemented observability snapshot.
type Stats struct {
	CacheSize      int
	BookkeeperSize int
	KeyMutexSize   int
}

func (s *Store[Domain, ReadProjection, Network, WriteValue]) Stats() Stats {
	return Stats{
		CacheSize:      s.cache.Size(),
		BookkeeperSize: s.bk.Size(),
		KeyMutexSize:   s.km.Size(),
	}
}

// Close cancels every outstanding subscription's scope and waits for
// their background tasks to unwind (§3's lifecycle: "close... cancels
// all background tasks and releases caches").
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.rootCancel()
	s.wg.Wait()
	s.cache.Clear()
}

// Stream opens a reactive per-subscriber stream for key (§4.8). The
// returned cancel function must be called exactly once; cancelling it
// (or cancelling ctx) tears down this subscriber's background fetch
// and forwarding work without affecting other subscribers of the same
// key (invariant 6, testable property 2).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Stream(ctx context.Context, key storekey.StoreKey, policy freshness.Policy) (<-chan StoreResult[Domain], func()) {
	subCtx, cancel := s.childContext(ctx)
	out := make(chan StoreResult[Domain], 16)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		s.runStream(subCtx, key, policy, out)
	}()

	return out, cancel
}

// childContext derives a cancellable context from parent that is also
// cancelled when the Store's root scope is torn down by Close, so
// every outstanding subscription unwinds on Close without each caller
// having to thread the Store's own lifetime into their own ctx (§3's
// lifecycle: "close... cancels all background tasks").
func (s *Store[Domain, ReadProjection, Network, WriteValue]) childContext(parent context.Context) (context.Context, context.CancelFunc) {
	child, cancelChild := context.WithCancel(parent)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case <-s.rootCtx.Done():
		case <-done:
		}
		cancelChild()
	}()

	cancel := func() {
		once.Do(func() { close(done) })
	}
	return child, cancel
}

func (s *Store[Domain, ReadProjection, Network, WriteValue]) runStream(ctx context.Context, key storekey.StoreKey, policy freshness.Policy, out chan<- StoreResult[Domain]) {
	opCtx, _ := storelog.WithOperationID(ctx)
	log := storelog.Scoped(s.log, opCtx, "readstore.stream").With().Str("key", key.String()).Logger()

	sotCh, sotCancel := s.deps.SoT.Reader(opCtx, key)
	defer sotCancel()

	var initial *ReadProjection
	select {
	case initial = <-sotCh:
	case <-opCtx.Done():
		return
	}
	hadCachedData := initial != nil

	var dbMeta *freshness.EntityMeta
	if initial != nil {
		dbMeta = s.deps.Converter.DbMetaFromProjection(*initial)
	}
	status := s.bk.LastStatus(key)
	now := s.deps.Clock.Now()

	plan := s.validator.Plan(freshness.Ctx{
		Key:     key,
		Now:     now,
		Policy:  policy,
		SotMeta: dbMeta,
		Status:  status,
		TTL:     s.cfg.DefaultFreshnessTTL,
	})
	log.Debug().Int("plan", int(plan.Kind)).Msg("freshness plan computed")

	errCh := make(chan StoreResult[Domain], 1)

	if policy.Kind == freshness.MustBeFresh && plan.Kind != freshness.Skip {
		if err := s.runBlockingFetch(opCtx, key, plan); err != nil {
			select {
			case out <- ErrorResult[Domain](err, false):
			case <-opCtx.Done():
			}
			return
		}
	} else if plan.Kind != freshness.Skip {
		g, gctx := errgroup.WithContext(opCtx)
		s.wg.Add(1)
		g.Go(func() error {
			defer s.wg.Done()
			if err := s.runBlockingFetch(gctx, key, plan); err != nil {
				reference := referenceTime(dbMeta, status)
				servedStale := freshness.ServedStaleNow(hadCachedData, policy, reference, s.deps.Clock.Now())
				select {
				case errCh <- ErrorResult[Domain](err, servedStale):
				case <-gctx.Done():
				}
			}
			return nil
		})
	}

	if !hadCachedData {
		select {
		case out <- Loading[Domain](false):
		case <-opCtx.Done():
			return
		}
	}

	if initial != nil {
		if cont := s.emitProjection(opCtx, key, initial, &hadCachedData, out); !cont {
			return
		}
	}

	for {
		select {
		case proj := <-sotCh:
			if proj == nil {
				continue
			}
			if cont := s.emitProjection(opCtx, key, proj, &hadCachedData, out); !cont {
				return
			}
		case res := <-errCh:
			select {
			case out <- res:
			case <-opCtx.Done():
				return
			}
		case <-opCtx.Done():
			return
		}
	}
}

// emitProjection converts and forwards one non-nil SoT emission,
// updating MemoryCache on success. It returns false when the stream
// must terminate (a conversion error with no cached data to fall back
// on, per §7's propagation policy).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) emitProjection(ctx context.Context, key storekey.StoreKey, proj *ReadProjection, hadCachedData *bool, out chan<- StoreResult[Domain]) bool {
	domain, err := s.deps.Converter.DbReadToDomain(key, *proj)
	if err != nil {
		servedStale := *hadCachedData
		select {
		case out <- ErrorResult[Domain](err, servedStale):
		case <-ctx.Done():
		}
		return servedStale
	}

	meta := s.deps.Converter.DbMetaFromProjection(*proj)
	age := ageFor(meta, s.deps.Clock.Now())
	s.cache.Put(cacheKey{canonical: key.CanonicalString(), ns: key.Namespace()}, cacheEntry[Domain]{value: domain, insertedAt: s.deps.Clock.Now()})

	select {
	case out <- Data[Domain](domain, OriginSoT, age):
	case <-ctx.Done():
		return false
	}
	*hadCachedData = true
	return true
}

// runBlockingFetch runs the fetch task (§4.8's run_blocking_fetch)
// inside SingleFlight for key, joining any already in-flight fetch
// for the same key (invariant 1).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) runBlockingFetch(ctx context.Context, key storekey.StoreKey, plan freshness.Plan) error {
	_, err, _ := s.sf.Do(ctx, s.rootCtx, key.CanonicalString(), func(fnCtx context.Context) (struct{}, error) {
		return struct{}{}, s.doFetch(fnCtx, key, plan)
	})
	return err
}

func (s *Store[Domain, ReadProjection, Network, WriteValue]) doFetch(ctx context.Context, key storekey.StoreKey, plan freshness.Plan) error {
	if plan.Kind == freshness.Skip {
		return nil
	}

	req := fetcher.Request{}
	if plan.Kind == freshness.Conditional {
		req.Conditional = &fetcher.Conditional{Etag: plan.Etag, LastModified: plan.LastModified}
	}

	resCh := s.deps.Fetcher.Fetch(ctx, req)
	var lastErr error
	for res := range resCh {
		switch res.Kind {
		case fetcher.Success:
			writeVal, err := s.deps.Converter.NetToDbWrite(key, res.Body)
			if err != nil {
				s.bk.RecordFailure(key, err, s.deps.Clock.Now())
				return err
			}
			unlock := s.km.Lock(key.CanonicalString())
			writeErr := s.deps.SoT.Write(ctx, key, writeVal)
			unlock()
			if writeErr != nil {
				s.bk.RecordFailure(key, writeErr, s.deps.Clock.Now())
				return writeErr
			}
			s.bk.RecordSuccess(key, res.Etag, s.deps.Clock.Now())
		case fetcher.NotModified:
			s.bk.RecordSuccess(key, res.Etag, s.deps.Clock.Now())
		case fetcher.Error:
			s.bk.RecordFailure(key, res.Err, s.deps.Clock.Now())
			lastErr = res.Err
		}
		if res.Final {
			break
		}
	}
	return lastErr
}

// Get is the suspending single-shot read (§4.8).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Get(ctx context.Context, key storekey.StoreKey, policy freshness.Policy) (Domain, error) {
	if policy.Kind == freshness.CachedOrFetch {
		if entry, ok := s.cache.Get(cacheKey{canonical: key.CanonicalString(), ns: key.Namespace()}); ok {
			return entry.value, nil
		}
	}

	ch, cancel := s.Stream(ctx, key, policy)
	defer cancel()

	var zero Domain
	for res := range ch {
		switch res.Kind {
		case ResultData:
			return res.Value, nil
		case ResultError:
			if !res.ServedStale {
				return zero, res.Err
			}
			// skip served-stale errors; they accompany stale data
			// already delivered or about to be.
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, nil
}

// Invalidate purges key from MemoryCache and bookkeeping, optionally
// deleting it from the SourceOfTruth (§4.8, config.DeleteSotOnInvalidate).
// Non-blocking to the caller: the optional SoT delete runs in a
// tracked background task.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Invalidate(key storekey.StoreKey) {
	s.cache.Remove(cacheKey{canonical: key.CanonicalString(), ns: key.Namespace()})
	s.bk.Forget(key)

	if !s.cfg.DeleteSotOnInvalidate {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		unlock := s.km.Lock(key.CanonicalString())
		defer unlock()
		_ = s.deps.SoT.Delete(s.rootCtx, key)
	}()
}

// InvalidateNamespace clears every cached entry under ns. With
// config.NamespaceInvalidationPrefixMatch it prefix-matches (the
// richer behavior the spec recommends); otherwise it falls back to
// the reference minimum of clearing the entire cache.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) InvalidateNamespace(ns storekey.Namespace) {
	if !s.cfg.NamespaceInvalidationPrefixMatch {
		s.cache.Clear()
		return
	}
	s.cache.RemoveMatching(func(ck cacheKey) bool { return ck.ns.HasPrefix(ns) })
}

// InvalidateAll clears MemoryCache entirely.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) InvalidateAll() {
	s.cache.Clear()
}

// WriteThrough durably persists value for key under KeyMutex(key),
// records the success in Bookkeeper, and purges any stale cache entry
// so the next read observes the write (§4.9 step 3's "under
// KeyMutex(key), write the canonical value to SoT... update
// Bookkeeper"). Used by MutationStore to apply a remote Success.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) WriteThrough(ctx context.Context, key storekey.StoreKey, value WriteValue, etag string) error {
	unlock := s.km.Lock(key.CanonicalString())
	defer unlock()

	if err := s.deps.SoT.Write(ctx, key, value); err != nil {
		s.bk.RecordFailure(key, err, s.deps.Clock.Now())
		return err
	}
	s.bk.RecordSuccess(key, etag, s.deps.Clock.Now())
	s.cache.Remove(cacheKey{canonical: key.CanonicalString(), ns: key.Namespace()})
	return nil
}

// DeleteThrough removes key from the SoT under KeyMutex(key) and
// purges it from MemoryCache and Bookkeeper (§4.9's delete path).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) DeleteThrough(ctx context.Context, key storekey.StoreKey) error {
	unlock := s.km.Lock(key.CanonicalString())
	defer unlock()

	if err := s.deps.SoT.Delete(ctx, key); err != nil {
		s.bk.RecordFailure(key, err, s.deps.Clock.Now())
		return err
	}
	s.bk.Forget(key)
	s.cache.Remove(cacheKey{canonical: key.CanonicalString(), ns: key.Namespace()})
	return nil
}

// RecordMutationSuccess records a successful remote mutation call
// that produced no local write (NotModified, or a Success with
// nothing to persist) so freshness planning still reflects the
// confirmed-fresh state.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) RecordMutationSuccess(key storekey.StoreKey, etag string) {
	s.bk.RecordSuccess(key, etag, s.deps.Clock.Now())
}

// RecordMutationFailure records a failed remote mutation call in
// Bookkeeper without touching the SoT, so freshness planning for key
// reflects the failure (e.g. for a subsequent revalidation).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) RecordMutationFailure(key storekey.StoreKey, err error) {
	s.bk.RecordFailure(key, err, s.deps.Clock.Now())
}

// RekeyThrough moves old's row to new under KeyMutex(old), applying
// reconcile to merge with any pre-existing row at new, then purges
// both keys from MemoryCache and old's state from Bookkeeper (new
// keeps whatever bookkeeping it already has) (§4.9 step 4's create
// rekey, §4.10's Rekeyed transition).
func (s *Store[Domain, ReadProjection, Network, WriteValue]) RekeyThrough(ctx context.Context, old, new storekey.StoreKey, reconcile func(oldValue, existingNew *ReadProjection) (*ReadProjection, error)) error {
	unlock := s.km.Lock(old.CanonicalString())
	defer unlock()

	if err := s.deps.SoT.Rekey(ctx, old, new, reconcile); err != nil {
		s.bk.RecordFailure(old, err, s.deps.Clock.Now())
		return err
	}
	s.bk.Forget(old)
	s.cache.Remove(cacheKey{canonical: old.CanonicalString(), ns: old.Namespace()})
	s.cache.Remove(cacheKey{canonical: new.CanonicalString(), ns: new.Namespace()})
	return nil
}

// Converter exposes the Store's Converter collaborator so
// MutationStore can reuse DomainToDbWrite for optimistic local writes
// without duplicating the dependency.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Converter() converter.Converter[storekey.StoreKey, Domain, ReadProjection, Network, WriteValue] {
	return s.deps.Converter
}

// Clock exposes the Store's time source for MutationStore's
// tombstone bookkeeping.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Clock() clock.Clock {
	return s.deps.Clock
}

// Logger exposes the logger the Store was constructed with
// (Deps.Logger) so MutationStore can log under the same conventions.
func (s *Store[Domain, ReadProjection, Network, WriteValue]) Logger() zerolog.Logger {
	return s.log
}

func referenceTime(meta *freshness.EntityMeta, status bookkeeper.KeyStatus) time.Time {
	if meta != nil && !meta.UpdatedAt.IsZero() {
		return meta.UpdatedAt
	}
	return status.LastSuccessAt
}

// ageFor computes a Data emission's age. Missing meta is measured
// from the zero time.Time, so the age saturates at the largest
// time.Duration — the "large" age §4.8 step 6 calls for.
func ageFor(meta *freshness.EntityMeta, now time.Time) time.Duration {
	if meta == nil {
		return now.Sub(time.Time{})
	}
	return meta.Age(now)
}

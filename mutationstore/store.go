package mutationstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matt-ramotar/storex/config"
	"github.com/matt-ramotar/storex/converter"
	"github.com/matt-ramotar/storex/freshness"
	"github.com/matt-ramotar/storex/readstore"
	"github.com/matt-ramotar/storex/storekey"
)

// Deps bundles MutationStore's collaborators beyond the embedded
// ReadStore (§6's MutationEncoder and remote-client contracts).
//
// EchoToWrite/PatchRequestToWrite/DraftRequestToWrite/PutRequestToWrite
// bridge a verb's echo or request payload into the WriteValue the SoT
// persists (§4.9 step 3: "derived from echo if present, else the
// request payload"). The core's Converter only translates Fetcher
// network bodies, not mutation echoes, so MutationStore needs its own
// narrow bridge rather than overloading Converter's contract; a nil
// function here degrades that verb's success path to bookkeeping-only
// (no SoT write), which is the right behavior for callers whose
// server never echoes a body worth persisting.
type Deps[Domain any, ReadProjection any, Network any, WriteValue any, Patch any, Draft any, NetPatch any, NetDraft any, NetPut any, Echo any] struct {
	Encoder converter.MutationEncoder[Patch, Draft, Domain, NetPatch, NetDraft, NetPut]
	Updater Updater[NetPatch, Echo]
	Creator Creator[NetDraft, Echo]
	Deleter Deleter
	Putser  Putser[NetPut, Echo]

	EchoToWrite         func(key storekey.StoreKey, echo Echo) (WriteValue, error)
	PatchRequestToWrite func(key storekey.StoreKey, patch NetPatch) (WriteValue, error)
	DraftRequestToWrite func(key storekey.StoreKey, draft NetDraft) (WriteValue, error)
	PutRequestToWrite   func(key storekey.StoreKey, put NetPut) (WriteValue, error)

	// DomainFromDraft best-effort converts a Draft into a Domain value
	// for the optimistic local write create() performs at the
	// provisional key before the network round trip. Nil skips the
	// optimistic write.
	DomainFromDraft func(draft Draft) (Domain, error)
}

// Store is the MutationStore (§4.9): update/create/delete/upsert/
// replace layered on an embedded ReadStore, so every exported
// ReadStore method (Stats, Close, Get, Stream, Invalidate*) is also
// available directly on Store (§6: "MutationStore<Key, Domain, Patch,
// Draft>: Store<Key, Domain>").
type Store[Domain any, ReadProjection any, Network any, WriteValue any, Patch any, Draft any, NetPatch any, NetDraft any, NetPut any, Echo any] struct {
	*readstore.Store[Domain, ReadProjection, Network, WriteValue]
	deps Deps[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]

	aliases    *KeyAliasMap
	tombstones *Tombstones
	retries    *RetryQueue
	log        zerolog.Logger
}

// New constructs a MutationStore wrapping an already-constructed
// ReadStore, with its own RetryQueue for Enqueued outcomes paced by
// cfg.RetryQueue. The two share no internal state beyond what
// ReadStore exposes through WriteThrough/DeleteThrough/RekeyThrough,
// so the caller is free to keep reading/streaming through the same
// *rs instance directly.
func New[Domain any, ReadProjection any, Network any, WriteValue any, Patch any, Draft any, NetPatch any, NetDraft any, NetPut any, Echo any](
	rs *readstore.Store[Domain, ReadProjection, Network, WriteValue],
	deps Deps[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo],
	cfg config.Config,
) *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo] {
	return &Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]{
		Store:      rs,
		deps:       deps,
		aliases:    NewKeyAliasMap(),
		tombstones: NewTombstones(),
		retries:    NewRetryQueue(cfg.RetryQueue, rs.Logger()),
		log:        rs.Logger(),
	}
}

// Close stops the retry queue before tearing down the embedded
// ReadStore's subscriptions and caches.
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Close() {
	s.retries.Close()
	s.Store.Close()
}

// resolve follows a key through KeyAliasMap so a caller still holding
// a provisional key after create() succeeds keeps resolving to the
// canonical row (§4.9 step 4).
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) resolve(key storekey.StoreKey) storekey.StoreKey {
	if canonical, ok := s.aliases.Resolve(key); ok {
		return canonical
	}
	return key
}

// Get shadows the embedded ReadStore.Get to resolve provisional keys
// first.
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Get(ctx context.Context, key storekey.StoreKey, policy freshness.Policy) (Domain, error) {
	return s.Store.Get(ctx, s.resolve(key), policy)
}

// Stream shadows the embedded ReadStore.Stream to resolve provisional
// keys first.
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Stream(ctx context.Context, key storekey.StoreKey, policy freshness.Policy) (<-chan readstore.StoreResult[Domain], func()) {
	return s.Store.Stream(ctx, s.resolve(key), policy)
}

func idempotencyKeyFor(idem Idempotency, autoBasis string) string {
	switch idem.Kind {
	case IdempotencyExplicit:
		return idem.Value
	case IdempotencyNone:
		return ""
	default:
		return autoBasis
	}
}

// Update applies patch to key (§4.9's update()).
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Update(ctx context.Context, key storekey.StoreKey, patch Patch, policy UpdatePolicy) UpdateResult {
	key = s.resolve(key)

	netPatch, err := s.deps.Encoder.FromPatch(patch)
	if err != nil {
		return UpdateResult{Kind: UpdateFailed, Cause: err}
	}

	s.applyOptimisticPatch(ctx, key, patch)

	outcome := s.deps.Updater.Update(ctx, key, netPatch, policy.Precondition, "")

	switch outcome.Kind {
	case RemoteSuccess:
		if err := s.commitUpdateSuccess(ctx, key, outcome, netPatch); err != nil {
			return UpdateResult{Kind: UpdateFailed, Cause: err}
		}
		return UpdateResult{Kind: UpdateSynced}
	case RemoteNotModified:
		s.Store.RecordMutationSuccess(key, outcome.Etag)
		return UpdateResult{Kind: UpdateSynced}
	case RemoteConflict:
		return s.resolveUpdateConflict(ctx, key, netPatch, outcome, policy)
	case RemoteFailure:
		s.Store.RecordMutationFailure(key, outcome.Cause)
		if policy.RequireOnline {
			return UpdateResult{Kind: UpdateFailed, Cause: outcome.Cause}
		}
		s.retries.Enqueue(context.Background(), "update:"+key.CanonicalString(), func(ctx context.Context) error {
			retryOutcome := s.deps.Updater.Update(ctx, key, netPatch, policy.Precondition, "")
			if retryOutcome.Kind == RemoteSuccess || retryOutcome.Kind == RemoteNotModified {
				return s.commitUpdateSuccess(ctx, key, retryOutcome, netPatch)
			}
			if retryOutcome.Kind == RemoteFailure {
				return retryOutcome.Cause
			}
			return nil // Conflict: give up retrying, caller already observed Enqueued
		})
		return UpdateResult{Kind: UpdateEnqueued}
	default:
		return UpdateResult{Kind: UpdateFailed, Cause: fmt.Errorf("mutationstore: unrecognized remote outcome %d", outcome.Kind)}
	}
}

func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) resolveUpdateConflict(ctx context.Context, key storekey.StoreKey, netPatch NetPatch, outcome RemoteOutcome[Echo], policy UpdatePolicy) UpdateResult {
	switch policy.ConflictStrategy {
	case ClientWins:
		retryOutcome := s.deps.Updater.Update(ctx, key, netPatch, Precondition{Kind: PreconditionIfMatch, Etag: outcome.ServerVersionTag}, "")
		if retryOutcome.Kind == RemoteSuccess {
			if err := s.commitUpdateSuccess(ctx, key, retryOutcome, netPatch); err != nil {
				return UpdateResult{Kind: UpdateFailed, Cause: err}
			}
			return UpdateResult{Kind: UpdateSynced}
		}
		return UpdateResult{Kind: UpdateFailed, Cause: fmt.Errorf("mutationstore: conflict, client-wins retry did not succeed")}
	case Merge:
		// Reserved/implementation-defined per §4.9; this reference
		// MutationEncoder has no merge hook, so a Merge strategy
		// degrades to ServerWins.
		fallthrough
	default: // ServerWins
		return UpdateResult{Kind: UpdateFailed, Cause: fmt.Errorf("mutationstore: conflict, server version %s", outcome.ServerVersionTag)}
	}
}

func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) commitUpdateSuccess(ctx context.Context, key storekey.StoreKey, outcome RemoteOutcome[Echo], netPatch NetPatch) error {
	if outcome.Echo != nil && s.deps.EchoToWrite != nil {
		wv, err := s.deps.EchoToWrite(key, *outcome.Echo)
		if err != nil {
			return err
		}
		return s.Store.WriteThrough(ctx, key, wv, outcome.Etag)
	}
	if s.deps.PatchRequestToWrite != nil {
		wv, err := s.deps.PatchRequestToWrite(key, netPatch)
		if err != nil {
			return err
		}
		return s.Store.WriteThrough(ctx, key, wv, outcome.Etag)
	}
	s.Store.RecordMutationSuccess(key, outcome.Etag)
	return nil
}

// applyOptimisticPatch performs update()'s optimistic local write
// ahead of the network round trip (§4.9 step 2). It reads the current
// value through Store.Get with CachedOrFetch, which fetches from the
// origin when neither MemoryCache nor the SoT holds one, and skips
// silently when that read fails or the patch cannot be applied
// locally.
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) applyOptimisticPatch(ctx context.Context, key storekey.StoreKey, patch Patch) {
	current, err := s.Store.Get(ctx, key, freshness.Policy{Kind: freshness.CachedOrFetch})
	if err != nil {
		return
	}
	updated, err := s.deps.Encoder.ApplyPatchLocally(current, patch)
	if err != nil {
		return
	}
	writeVal, err := s.Store.Converter().DomainToDbWrite(key, updated)
	if err != nil {
		return
	}
	_ = s.Store.WriteThrough(ctx, key, writeVal, "")
}

// Create submits draft for creation under the given namespace/type,
// assigning a provisional key up front per policy.IDStrategy (§4.9's
// create()).
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Create(ctx context.Context, ns storekey.Namespace, typ string, draft Draft, policy CreatePolicy) CreateResult {
	netDraft, err := s.deps.Encoder.FromDraft(draft)
	if err != nil {
		return CreateResult{Kind: CreateFailed, Cause: err}
	}

	provisional := storekey.ByIdKey{NS: ns, Type: typ, ID: s.provisionalID(policy.IDStrategy, netDraft)}

	if policy.Mode == OfflineFirst && s.deps.DomainFromDraft != nil {
		if domain, err := s.deps.DomainFromDraft(draft); err == nil {
			if wv, werr := s.Store.Converter().DomainToDbWrite(provisional, domain); werr == nil {
				_ = s.Store.WriteThrough(ctx, provisional, wv, "")
			}
		}
	}

	idemKey := idempotencyKeyFor(policy.Idempotency, provisional.CanonicalString())
	canonical, outcome := s.deps.Creator.Create(ctx, provisional, netDraft, idemKey)

	switch outcome.Kind {
	case RemoteSuccess, RemoteNotModified:
		if err := s.commitCreateSuccess(ctx, canonical, outcome, netDraft); err != nil {
			return CreateResult{Kind: CreateFailed, Provisional: provisional, Cause: err}
		}
		if canonical.CanonicalString() == provisional.CanonicalString() {
			return CreateResult{Kind: CreateSynced, Provisional: provisional, Canonical: canonical}
		}
		if err := s.Store.RekeyThrough(ctx, provisional, canonical, reconcileLastWriteWins[ReadProjection]); err != nil {
			return CreateResult{Kind: CreateFailed, Provisional: provisional, Cause: err}
		}
		s.aliases.Record(provisional, canonical)
		return CreateResult{Kind: CreateSynced, Provisional: provisional, Canonical: canonical, RekeyedFrom: provisional, WasRekeyed: true}
	case RemoteConflict:
		return CreateResult{Kind: CreateFailed, Provisional: provisional, Cause: fmt.Errorf("mutationstore: conflict, server version %s", outcome.ServerVersionTag)}
	case RemoteFailure:
		s.Store.RecordMutationFailure(provisional, outcome.Cause)
		if policy.RequireOnline {
			s.aliases.Forget(provisional)
			return CreateResult{Kind: CreateFailed, Provisional: provisional, Cause: outcome.Cause}
		}
		return CreateResult{Kind: CreateLocal, Provisional: provisional}
	default:
		return CreateResult{Kind: CreateFailed, Provisional: provisional, Cause: fmt.Errorf("mutationstore: unrecognized remote outcome %d", outcome.Kind)}
	}
}

func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) commitCreateSuccess(ctx context.Context, key storekey.StoreKey, outcome RemoteOutcome[Echo], netDraft NetDraft) error {
	if outcome.Echo != nil && s.deps.EchoToWrite != nil {
		wv, err := s.deps.EchoToWrite(key, *outcome.Echo)
		if err != nil {
			return err
		}
		return s.Store.WriteThrough(ctx, key, wv, outcome.Etag)
	}
	if s.deps.DraftRequestToWrite != nil {
		wv, err := s.deps.DraftRequestToWrite(key, netDraft)
		if err != nil {
			return err
		}
		return s.Store.WriteThrough(ctx, key, wv, outcome.Etag)
	}
	s.Store.RecordMutationSuccess(key, outcome.Etag)
	return nil
}

// provisionalID derives the provisional id create() assigns before
// the network round trip.
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) provisionalID(strategy IDStrategy, netDraft NetDraft) string {
	if strategy.Kind == ContentHash && strategy.Hash != nil {
		return strategy.Hash([]byte(fmt.Sprintf("%v", netDraft)))
	}
	return uuid.NewString()
}

// reconcileLastWriteWins is the default rekey reconcile function used
// by create(): the newly-created (old) row wins outright over
// whatever happened to already occupy the canonical key, since a
// canonical key collision on create is not a merge scenario the
// generic core can resolve.
func reconcileLastWriteWins[ReadProjection any](oldValue, existingNew *ReadProjection) (*ReadProjection, error) {
	if oldValue != nil {
		return oldValue, nil
	}
	return existingNew, nil
}

// Delete removes key (§4.9's delete()).
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Delete(ctx context.Context, key storekey.StoreKey, policy DeletePolicy) DeleteResult {
	key = s.resolve(key)

	if policy.Mode == OfflineFirst {
		_ = s.Store.DeleteThrough(ctx, key)
	}

	outcome := s.deps.Deleter.Delete(ctx, key, policy.Precondition)

	switch outcome.Kind {
	case RemoteSuccess, RemoteNotModified:
		if policy.Mode != OfflineFirst {
			_ = s.Store.DeleteThrough(ctx, key)
		}
		s.Store.RecordMutationSuccess(key, outcome.Etag)
		if policy.Tombstone.Kind == TombstoneEnabled {
			s.tombstones.Mark(key, s.Store.Clock().Now(), policy.Tombstone.TTL)
		}
		return DeleteResult{Kind: DeleteSynced}
	case RemoteConflict:
		return DeleteResult{Kind: DeleteFailed, Cause: fmt.Errorf("mutationstore: conflict, server version %s", outcome.ServerVersionTag)}
	case RemoteFailure:
		s.Store.RecordMutationFailure(key, outcome.Cause)
		if policy.RequireOnline {
			// In OfflineFirst mode the optimistic delete already
			// happened against the SoT; this reference implementation
			// does not capture the prior value, so a required-online
			// failure is reported without a revert (Restored stays
			// false).
			return DeleteResult{Kind: DeleteFailed, Cause: outcome.Cause}
		}
		s.retries.Enqueue(context.Background(), "delete:"+key.CanonicalString(), func(ctx context.Context) error {
			retryOutcome := s.deps.Deleter.Delete(ctx, key, policy.Precondition)
			if retryOutcome.Kind == RemoteSuccess || retryOutcome.Kind == RemoteNotModified {
				if policy.Mode != OfflineFirst {
					_ = s.Store.DeleteThrough(ctx, key)
				}
				s.Store.RecordMutationSuccess(key, retryOutcome.Etag)
				return nil
			}
			if retryOutcome.Kind == RemoteFailure {
				return retryOutcome.Cause
			}
			return nil
		})
		return DeleteResult{Kind: DeleteEnqueued}
	default:
		return DeleteResult{Kind: DeleteFailed, Cause: fmt.Errorf("mutationstore: unrecognized remote outcome %d", outcome.Kind)}
	}
}

// Upsert writes value at key, creating it if absent (§4.9's upsert()).
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Upsert(ctx context.Context, key storekey.StoreKey, value Domain, policy UpsertPolicy) UpsertResult {
	key = s.resolve(key)

	if policy.Mode == OfflineFirst {
		if wv, err := s.Store.Converter().DomainToDbWrite(key, value); err == nil {
			_ = s.Store.WriteThrough(ctx, key, wv, "")
		}
	}

	netPut, err := s.deps.Encoder.FromValue(value)
	if err != nil {
		return UpsertResult{Kind: UpsertFailed, Key: key, Cause: err}
	}

	idemKey := idempotencyKeyFor(policy.Idempotency, key.CanonicalString())
	outcome := s.deps.Putser.Put(ctx, key, netPut, policy.Precondition, idemKey)

	switch outcome.Kind {
	case RemoteSuccess, RemoteNotModified:
		if err := s.commitUpsertSuccess(ctx, key, outcome, netPut); err != nil {
			return UpsertResult{Kind: UpsertFailed, Key: key, Cause: err}
		}
		s.tombstones.Clear(key)
		return UpsertResult{Kind: UpsertSynced, Key: key, Created: outcome.Kind == RemoteSuccess}
	case RemoteConflict:
		return UpsertResult{Kind: UpsertFailed, Key: key, Cause: fmt.Errorf("mutationstore: conflict, server version %s", outcome.ServerVersionTag)}
	case RemoteFailure:
		s.Store.RecordMutationFailure(key, outcome.Cause)
		if policy.RequireOnline {
			return UpsertResult{Kind: UpsertFailed, Key: key, Cause: outcome.Cause}
		}
		return UpsertResult{Kind: UpsertLocal, Key: key}
	default:
		return UpsertResult{Kind: UpsertFailed, Key: key, Cause: fmt.Errorf("mutationstore: unrecognized remote outcome %d", outcome.Kind)}
	}
}

func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) commitUpsertSuccess(ctx context.Context, key storekey.StoreKey, outcome RemoteOutcome[Echo], netPut NetPut) error {
	if outcome.Echo != nil && s.deps.EchoToWrite != nil {
		wv, err := s.deps.EchoToWrite(key, *outcome.Echo)
		if err != nil {
			return err
		}
		return s.Store.WriteThrough(ctx, key, wv, outcome.Etag)
	}
	if s.deps.PutRequestToWrite != nil {
		wv, err := s.deps.PutRequestToWrite(key, netPut)
		if err != nil {
			return err
		}
		return s.Store.WriteThrough(ctx, key, wv, outcome.Etag)
	}
	s.Store.RecordMutationSuccess(key, outcome.Etag)
	return nil
}

// Replace overwrites key's value in full (§4.9's replace()). It
// shares the Putser remote client with Upsert but never reports
// Created, matching replace()'s "must already exist" contract.
func (s *Store[Domain, ReadProjection, Network, WriteValue, Patch, Draft, NetPatch, NetDraft, NetPut, Echo]) Replace(ctx context.Context, key storekey.StoreKey, value Domain, policy ReplacePolicy) ReplaceResult {
	key = s.resolve(key)

	if policy.Mode == OfflineFirst {
		if wv, err := s.Store.Converter().DomainToDbWrite(key, value); err == nil {
			_ = s.Store.WriteThrough(ctx, key, wv, "")
		}
	}

	netPut, err := s.deps.Encoder.FromValue(value)
	if err != nil {
		return ReplaceResult{Kind: ReplaceFailed, Cause: err}
	}

	outcome := s.deps.Putser.Put(ctx, key, netPut, policy.Precondition, "")

	switch outcome.Kind {
	case RemoteSuccess, RemoteNotModified:
		if err := s.commitUpsertSuccess(ctx, key, outcome, netPut); err != nil {
			return ReplaceResult{Kind: ReplaceFailed, Cause: err}
		}
		return ReplaceResult{Kind: ReplaceSynced}
	case RemoteConflict:
		return ReplaceResult{Kind: ReplaceFailed, Cause: fmt.Errorf("mutationstore: conflict, server version %s", outcome.ServerVersionTag)}
	case RemoteFailure:
		s.Store.RecordMutationFailure(key, outcome.Cause)
		if policy.Mode == OnlineFirst {
			return ReplaceResult{Kind: ReplaceFailed, Cause: outcome.Cause}
		}
		s.retries.Enqueue(context.Background(), "replace:"+key.CanonicalString(), func(ctx context.Context) error {
			retryOutcome := s.deps.Putser.Put(ctx, key, netPut, policy.Precondition, "")
			if retryOutcome.Kind == RemoteSuccess || retryOutcome.Kind == RemoteNotModified {
				return s.commitUpsertSuccess(ctx, key, retryOutcome, netPut)
			}
			if retryOutcome.Kind == RemoteFailure {
				return retryOutcome.Cause
			}
			return nil
		})
		return ReplaceResult{Kind: ReplaceEnqueued}
	default:
		return ReplaceResult{Kind: ReplaceFailed, Cause: fmt.Errorf("mutationstore: unrecognized remote outcome %d", outcome.Kind)}
	}
}

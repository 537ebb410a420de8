package mutationstore

import (
	"context"
	"time"

	"github.com/matt-ramotar/storex/storekey"
)

// RemoteOutcomeKind enumerates what a remote client call (Updater,
// Creator, Deleter, Putser) reported (§4.9 step 3).
type RemoteOutcomeKind int

const (
	RemoteSuccess RemoteOutcomeKind = iota
	RemoteNotModified
	RemoteConflict
	RemoteFailure
)

// RemoteOutcome is the uniform result shape every remote client
// returns, parameterized by the echo body type the server returns
// alongside a success (often the same Network type the caller used to
// encode the request).
type RemoteOutcome[Echo any] struct {
	Kind             RemoteOutcomeKind
	Echo             *Echo // Success
	Etag             string
	ServerVersionTag string        // Conflict
	Cause            error         // Failure
	RetryAfter       time.Duration // Failure
}

// Updater performs the network call for update().
type Updater[NetPatch any, Echo any] interface {
	Update(ctx context.Context, key storekey.StoreKey, patch NetPatch, precond Precondition, idempotencyKey string) RemoteOutcome[Echo]
}

// Creator performs the network call for create(). It returns the
// canonical key the server assigned (which may differ from the
// provisional key the caller used to submit the draft) alongside the
// outcome.
type Creator[NetDraft any, Echo any] interface {
	Create(ctx context.Context, provisional storekey.StoreKey, draft NetDraft, idempotencyKey string) (canonical storekey.StoreKey, outcome RemoteOutcome[Echo])
}

// Deleter performs the network call for delete().
type Deleter interface {
	Delete(ctx context.Context, key storekey.StoreKey, precond Precondition) RemoteOutcome[struct{}]
}

// Putser performs the network call for upsert()/replace() (the spec's
// "Putser" name for the verb that both creates and replaces).
type Putser[NetPut any, Echo any] interface {
	Put(ctx context.Context, key storekey.StoreKey, body NetPut, precond Precondition, idempotencyKey string) RemoteOutcome[Echo]
}

// UpdaterFunc adapts a plain function to Updater, the way
// fetcher.FuncFetcher adapts a function to Fetcher.
type UpdaterFunc[NetPatch any, Echo any] func(ctx context.Context, key storekey.StoreKey, patch NetPatch, precond Precondition, idempotencyKey string) RemoteOutcome[Echo]

func (f UpdaterFunc[NetPatch, Echo]) Update(ctx context.Context, key storekey.StoreKey, patch NetPatch, precond Precondition, idempotencyKey string) RemoteOutcome[Echo] {
	return f(ctx, key, patch, precond, idempotencyKey)
}

// CreatorFunc adapts a plain function to Creator.
type CreatorFunc[NetDraft any, Echo any] func(ctx context.Context, provisional storekey.StoreKey, draft NetDraft, idempotencyKey string) (storekey.StoreKey, RemoteOutcome[Echo])

func (f CreatorFunc[NetDraft, Echo]) Create(ctx context.Context, provisional storekey.StoreKey, draft NetDraft, idempotencyKey string) (storekey.StoreKey, RemoteOutcome[Echo]) {
	return f(ctx, provisional, draft, idempotencyKey)
}

// DeleterFunc adapts a plain function to Deleter.
type DeleterFunc func(ctx context.Context, key storekey.StoreKey, precond Precondition) RemoteOutcome[struct{}]

func (f DeleterFunc) Delete(ctx context.Context, key storekey.StoreKey, precond Precondition) RemoteOutcome[struct{}] {
	return f(ctx, key, precond)
}

// PutserFunc adapts a plain function to Putser.
type PutserFunc[NetPut any, Echo any] func(ctx context.Context, key storekey.StoreKey, body NetPut, precond Precondition, idempotencyKey string) RemoteOutcome[Echo]

func (f PutserFunc[NetPut, Echo]) Put(ctx context.Context, key storekey.StoreKey, body NetPut, precond Precondition, idempotencyKey string) RemoteOutcome[Echo] {
	return f(ctx, key, body, precond, idempotencyKey)
}

// CreateResultKind enumerates CreateResult's variants (§3).
type CreateResultKind int

const (
	CreateLocal CreateResultKind = iota
	CreateSynced
	CreateFailed
)

// CreateResult is create()'s typed outcome (§3).
type CreateResult struct {
	Kind         CreateResultKind
	Provisional  storekey.StoreKey
	Canonical    storekey.StoreKey // Synced
	RekeyedFrom  storekey.StoreKey // Synced, only when Canonical != Provisional
	WasRekeyed   bool
	Cause        error // Failed
}

// UpdateResultKind enumerates UpdateResult's variants.
type UpdateResultKind int

const (
	UpdateEnqueued UpdateResultKind = iota
	UpdateSynced
	UpdateFailed
)

// UpdateResult is update()'s typed outcome.
type UpdateResult struct {
	Kind  UpdateResultKind
	Cause error // Failed
}

// DeleteResultKind enumerates DeleteResult's variants.
type DeleteResultKind int

const (
	DeleteEnqueued DeleteResultKind = iota
	DeleteSynced
	DeleteFailed
)

// DeleteResult is delete()'s typed outcome.
type DeleteResult struct {
	Kind           DeleteResultKind
	AlreadyDeleted bool  // Synced
	Cause          error // Failed
	Restored       bool  // Failed: whether the optimistic delete was reverted
}

// UpsertResultKind enumerates UpsertResult's variants.
type UpsertResultKind int

const (
	UpsertLocal UpsertResultKind = iota
	UpsertSynced
	UpsertFailed
)

// UpsertResult is upsert()'s typed outcome.
type UpsertResult struct {
	Kind    UpsertResultKind
	Key     storekey.StoreKey
	Created bool  // Synced
	Cause   error // Failed
}

// ReplaceResultKind enumerates ReplaceResult's variants.
type ReplaceResultKind int

const (
	ReplaceEnqueued ReplaceResultKind = iota
	ReplaceSynced
	ReplaceFailed
)

// ReplaceResult is replace()'s typed outcome.
type ReplaceResult struct {
	Kind  ReplaceResultKind
	Cause error // Failed
}

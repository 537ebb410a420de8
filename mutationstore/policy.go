// Package mutationstore implements the MutationStore module (§4.9):
// update/create/delete/upsert/replace on top of a readstore.Store,
// with preconditions, provisional-to-canonical rekeying, idempotency,
// conflict outcomes, and optimistic local writes.
package mutationstore

import "time"

// PreconditionKind enumerates the precondition variants communicated
// opaquely to the remote client (§4.9: "the core does not implement
// HTTP translation but preserves exact semantics").
type PreconditionKind int

const (
	PreconditionNone PreconditionKind = iota
	PreconditionIfMatch
	PreconditionIfNoneMatch
	PreconditionVersion
)

// Precondition carries whichever field its Kind calls for.
type Precondition struct {
	Kind    PreconditionKind
	Etag    string
	Version int64
}

// ConflictStrategy resolves an update Conflict outcome (§4.9).
type ConflictStrategy int

const (
	ServerWins ConflictStrategy = iota
	ClientWins
	Merge
)

// Mode selects whether a mutation commits locally first or waits on
// the network round trip (§4.9's CreatePolicy.mode, reused by
// Upsert/Replace policies).
type Mode int

const (
	OfflineFirst Mode = iota
	OnlineFirst
)

// IDStrategyKind enumerates how a Create assigns a provisional id.
type IDStrategyKind int

const (
	ProvisionalUUID IDStrategyKind = iota
	ContentHash
	ServerAllocated
)

// IDStrategy configures provisional id assignment for Create.
type IDStrategy struct {
	Kind IDStrategyKind
	// Hash is consulted when Kind == ContentHash: it derives a
	// deterministic id from the draft's encoded bytes.
	Hash func(draftBytes []byte) string
}

// IdempotencyKind enumerates how an idempotency key is derived.
type IdempotencyKind int

const (
	IdempotencyAuto IdempotencyKind = iota
	IdempotencyExplicit
	IdempotencyNone
)

// Idempotency configures the idempotency key communicated to the
// network layer (§4.9: "the value is communicated to the network
// layer... it is not interpreted by the core").
type Idempotency struct {
	Kind  IdempotencyKind
	Value string // consulted when Kind == IdempotencyExplicit
}

// TombstoneKind enumerates DeletePolicy's tombstone behavior.
type TombstoneKind int

const (
	TombstoneEnabled TombstoneKind = iota
	TombstoneDisabled
)

// Tombstone configures whether and how long a delete leaves behind a
// tombstone record (§4.9).
type Tombstone struct {
	Kind TombstoneKind
	TTL  time.Duration // consulted when Kind == TombstoneEnabled
}

// ExistenceStrategyKind enumerates how Upsert decides whether the
// target already exists.
type ExistenceStrategyKind int

const (
	ServerDecides ExistenceStrategyKind = iota
	CheckSoT
	CheckRemote
)

// UpdatePolicy configures update() (§4.9).
type UpdatePolicy struct {
	Precondition     Precondition
	ConflictStrategy ConflictStrategy
	RequireOnline    bool
	DedupeWindow     time.Duration // default 150ms, see config.DefaultConfig
}

// CreatePolicy configures create() (§4.9).
type CreatePolicy struct {
	Mode             Mode
	IDStrategy       IDStrategy
	Idempotency      Idempotency
	ConflictStrategy ConflictStrategy
	RequireOnline    bool
}

// DeletePolicy configures delete() (§4.9).
type DeletePolicy struct {
	Mode           Mode
	Precondition   Precondition
	Tombstone      Tombstone // default Enabled with 7-day TTL
	CascadeQueries bool
	RequireOnline  bool
}

// UpsertPolicy configures upsert() (§4.9).
type UpsertPolicy struct {
	Mode              Mode
	ExistenceStrategy ExistenceStrategyKind
	Precondition      Precondition
	Idempotency       Idempotency
	RequireOnline     bool
}

// ReplacePolicy configures replace() (§4.9).
type ReplacePolicy struct {
	Mode         Mode
	Precondition Precondition
}

// DefaultUpdatePolicy returns update()'s documented defaults.
func DefaultUpdatePolicy() UpdatePolicy {
	return UpdatePolicy{
		Precondition:     Precondition{Kind: PreconditionNone},
		ConflictStrategy: ServerWins,
		RequireOnline:    false,
		DedupeWindow:     150 * time.Millisecond,
	}
}

// DefaultCreatePolicy returns create()'s documented defaults.
func DefaultCreatePolicy() CreatePolicy {
	return CreatePolicy{
		Mode:             OfflineFirst,
		IDStrategy:       IDStrategy{Kind: ProvisionalUUID},
		Idempotency:      Idempotency{Kind: IdempotencyAuto},
		ConflictStrategy: ServerWins,
		RequireOnline:    false,
	}
}

// DefaultDeletePolicy returns delete()'s documented defaults.
func DefaultDeletePolicy() DeletePolicy {
	return DeletePolicy{
		Mode:          OfflineFirst,
		Precondition:  Precondition{Kind: PreconditionNone},
		Tombstone:     Tombstone{Kind: TombstoneEnabled, TTL: 7 * 24 * time.Hour},
		RequireOnline: false,
	}
}

// DefaultUpsertPolicy returns upsert()'s documented defaults.
func DefaultUpsertPolicy() UpsertPolicy {
	return UpsertPolicy{
		Mode:              OfflineFirst,
		ExistenceStrategy: ServerDecides,
		Precondition:      Precondition{Kind: PreconditionNone},
		Idempotency:       Idempotency{Kind: IdempotencyAuto},
		RequireOnline:     false,
	}
}

// DefaultReplacePolicy returns replace()'s documented defaults.
func DefaultReplacePolicy() ReplacePolicy {
	return ReplacePolicy{
		Mode:         OfflineFirst,
		Precondition: Precondition{Kind: PreconditionNone},
	}
}

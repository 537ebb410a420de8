// Package freshness implements the FreshnessValidator module (§4.1):
// a pure, total function mapping (freshness policy, cached metadata,
// bookkeeping status, now) to a FetchPlan. It performs no I/O and
// never suspends, matching §5's "pure computation... never suspends".
//
// Grounded on the donor's cache-manager/policies.go EvictionPolicy
// family (ShouldEvict/OnAccess/OnSet as pure, side-effect-free
// predicates over a CacheEntry) — the same style of small, total,
// table-driven decision functions, applied here to fetch planning
// instead of eviction.
package freshness

import (
	"time"

	"github.com/matt-ramotar/storex/bookkeeper"
	"github.com/matt-ramotar/storex/storekey"
)

// PolicyKind enumerates the freshness policy variants of §3.
type PolicyKind int

const (
	CachedOrFetch PolicyKind = iota
	MinAge
	MustBeFresh
	StaleIfError
)

// Policy is the freshness-policy input to the planner (§3). Only the
// field relevant to Kind is consulted:
//   - MinAge reads NotOlderThan.
//   - StaleIfError reads Window; a zero Window means "no window
//     configured" — §4.8's served_stale_now treats an unconfigured
//     window as unconstrained (any staleness is tolerated), which is
//     the spec's own recommended reading of "when a stale_if_error
//     window is configured" as an optional constraint, not a
//     mandatory field.
type Policy struct {
	Kind         PolicyKind
	NotOlderThan time.Duration
	Window       time.Duration
}

// EntityMeta is the metadata extracted from a persisted projection
// (§3): an update timestamp and an optional etag. The design notes
// (§9) ask for meta to be a total, statically typed representation
// rather than a downcast from an untyped value; EntityMeta plus the
// Converter's db_meta_from_projection extraction is that
// representation.
type EntityMeta struct {
	UpdatedAt time.Time
	Etag      string
}

// Age returns now - m.UpdatedAt.
func (m EntityMeta) Age(now time.Time) time.Duration {
	return now.Sub(m.UpdatedAt)
}

// PlanKind enumerates the FetchPlan variants of §3.
type PlanKind int

const (
	Skip PlanKind = iota
	Conditional
	Unconditional
)

// Plan is the planner's output (§3). Etag/LastModified/MaxStale are
// only meaningful when Kind == Conditional.
type Plan struct {
	Kind         PlanKind
	Etag         string
	LastModified time.Time
	MaxStale     time.Duration
}

func skipPlan() Plan          { return Plan{Kind: Skip} }
func unconditionalPlan() Plan { return Plan{Kind: Unconditional} }

// Ctx is the planner's input (§4.1). TTL is the configured freshness
// TTL consulted by CachedOrFetch's age(sot_meta) <= ttl row; the
// literal §4.1 ctx definition lists only
// {key, now, policy, sot_meta?, status} without a ttl field even
// though the decision table requires one. We thread it through
// explicitly here (sourced from the caller's Store configuration)
// rather than reaching for a package-level default, consistent with
// the "no global state" design note (§9).
type Ctx struct {
	Key    storekey.StoreKey
	Now    time.Time
	Policy Policy
	SotMeta *EntityMeta
	Status bookkeeper.KeyStatus
	TTL    time.Duration
}

// Validator plans fetches. It is stateless; the zero value is ready
// to use.
type Validator struct{}

// New constructs a Validator.
func New() Validator { return Validator{} }

// Plan evaluates the §4.1 decision table, top to bottom, and returns
// the resulting FetchPlan. Plan is pure: identical input always
// produces an identical output (testable property 6).
func (Validator) Plan(ctx Ctx) Plan {
	if ctx.Status.HasBackoff() && ctx.Now.Before(ctx.Status.BackoffUntil) {
		return skipPlan()
	}

	switch ctx.Policy.Kind {
	case CachedOrFetch:
		return planCachedOrFetch(ctx)
	case MinAge:
		return planMinAge(ctx)
	case MustBeFresh:
		return unconditionalPlan()
	case StaleIfError:
		return planStaleIfError(ctx)
	default:
		return unconditionalPlan()
	}
}

func planCachedOrFetch(ctx Ctx) Plan {
	if ctx.SotMeta == nil {
		return unconditionalPlan()
	}
	if ctx.SotMeta.Age(ctx.Now) <= ctx.TTL {
		return skipPlan()
	}
	return buildConditional(ctx.SotMeta, ctx.Status)
}

func planMinAge(ctx Ctx) Plan {
	if ctx.SotMeta == nil {
		return buildConditional(nil, ctx.Status)
	}
	age := ctx.SotMeta.Age(ctx.Now)
	if age > ctx.Policy.NotOlderThan {
		return buildConditional(ctx.SotMeta, ctx.Status)
	}
	return skipPlan()
}

func planStaleIfError(ctx Ctx) Plan {
	return buildConditional(ctx.SotMeta, ctx.Status)
}

// buildConditional returns a Conditional plan using whichever of
// etag/last-modified are available from meta (falling back to the
// bookkeeper's last-known etag when meta itself carries none), or
// Unconditional if no validator at all is available — meta present
// always supplies at least UpdatedAt as a last-modified validator, so
// this only falls through to Unconditional when meta is entirely
// absent and the bookkeeper has never recorded an etag either.
func buildConditional(meta *EntityMeta, status bookkeeper.KeyStatus) Plan {
	etag := status.LastEtag
	var lastModified time.Time
	if meta != nil {
		if meta.Etag != "" {
			etag = meta.Etag
		}
		lastModified = meta.UpdatedAt
	}

	if etag == "" && lastModified.IsZero() {
		return unconditionalPlan()
	}

	return Plan{Kind: Conditional, Etag: etag, LastModified: lastModified}
}

// ServedStaleNow implements §4.8's served_stale_now() policy: whether
// an Error accompanying a fetch failure should be marked served_stale
// (i.e. stale Data was or will be delivered alongside it).
//
// hadCachedData is true iff the stream's initial SoT read produced a
// non-nil projection. reference is the timestamp served_stale_now
// compares against the window — the spec says "the latest db meta
// updated_at or status.last_success_at"; callers pick whichever is
// more recent before calling this function.
func ServedStaleNow(hadCachedData bool, policy Policy, reference time.Time, now time.Time) bool {
	if !hadCachedData {
		return false
	}
	switch policy.Kind {
	case CachedOrFetch, MinAge:
		return true
	case StaleIfError:
		if policy.Window <= 0 {
			return true
		}
		if reference.IsZero() {
			return false
		}
		return now.Sub(reference) <= policy.Window
	default: // MustBeFresh
		return false
	}
}

package freshness

import (
	"testing"
	"time"

	"github.com/matt-ramotar/storex/bookkeeper"
	"github.com/matt-ramotar/storex/storekey"
)

var testKey = storekey.ByIdKey{NS: "users", Type: "profile", ID: "1"}

func TestBackoffShortCircuitsAnyPolicy(t *testing.T) {
	now := time.Unix(1000, 0)
	status := bookkeeper.KeyStatus{BackoffUntil: now.Add(time.Minute)}

	for _, kind := range []PolicyKind{CachedOrFetch, MinAge, MustBeFresh, StaleIfError} {
		plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: Policy{Kind: kind}, Status: status})
		if plan.Kind != Skip {
			t.Errorf("policy %v under active backoff: Kind = %v, want Skip", kind, plan.Kind)
		}
	}
}

func TestCachedOrFetchNoMeta(t *testing.T) {
	plan := New().Plan(Ctx{Key: testKey, Now: time.Unix(1000, 0), Policy: Policy{Kind: CachedOrFetch}, TTL: time.Minute})
	if plan.Kind != Unconditional {
		t.Fatalf("Kind = %v, want Unconditional", plan.Kind)
	}
}

func TestCachedOrFetchWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now.Add(-30 * time.Second)}
	plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: Policy{Kind: CachedOrFetch}, SotMeta: meta, TTL: time.Minute})
	if plan.Kind != Skip {
		t.Fatalf("Kind = %v, want Skip", plan.Kind)
	}
}

func TestCachedOrFetchPastTTLWithEtag(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now.Add(-2 * time.Minute), Etag: "etag-1"}
	plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: Policy{Kind: CachedOrFetch}, SotMeta: meta, TTL: time.Minute})
	if plan.Kind != Conditional {
		t.Fatalf("Kind = %v, want Conditional", plan.Kind)
	}
	if plan.Etag != "etag-1" {
		t.Fatalf("Etag = %q, want etag-1", plan.Etag)
	}
}

func TestMinAgeWithinBound(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now.Add(-5 * time.Second)}
	policy := Policy{Kind: MinAge, NotOlderThan: 10 * time.Second}
	plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: policy, SotMeta: meta})
	if plan.Kind != Skip {
		t.Fatalf("Kind = %v, want Skip", plan.Kind)
	}
}

func TestMinAgeMetaAbsent(t *testing.T) {
	policy := Policy{Kind: MinAge, NotOlderThan: 10 * time.Second}
	plan := New().Plan(Ctx{Key: testKey, Now: time.Unix(1000, 0), Policy: policy})
	if plan.Kind != Unconditional {
		t.Fatalf("Kind = %v, want Unconditional", plan.Kind)
	}
}

func TestMinAgeExceeded(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now.Add(-60 * time.Second), Etag: "e1"}
	policy := Policy{Kind: MinAge, NotOlderThan: 10 * time.Second}
	plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: policy, SotMeta: meta})
	if plan.Kind != Conditional {
		t.Fatalf("Kind = %v, want Conditional", plan.Kind)
	}
}

func TestMustBeFreshAlwaysUnconditional(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now}
	plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: Policy{Kind: MustBeFresh}, SotMeta: meta})
	if plan.Kind != Unconditional {
		t.Fatalf("Kind = %v, want Unconditional", plan.Kind)
	}
}

func TestStaleIfErrorWithValidator(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now, Etag: "e1"}
	plan := New().Plan(Ctx{Key: testKey, Now: now, Policy: Policy{Kind: StaleIfError}, SotMeta: meta})
	if plan.Kind != Conditional {
		t.Fatalf("Kind = %v, want Conditional", plan.Kind)
	}
}

func TestStaleIfErrorNoValidator(t *testing.T) {
	plan := New().Plan(Ctx{Key: testKey, Now: time.Unix(1000, 0), Policy: Policy{Kind: StaleIfError}})
	if plan.Kind != Unconditional {
		t.Fatalf("Kind = %v, want Unconditional", plan.Kind)
	}
}

func TestPlanPurity(t *testing.T) {
	now := time.Unix(1000, 0)
	meta := &EntityMeta{UpdatedAt: now.Add(-2 * time.Minute), Etag: "etag-1"}
	ctx := Ctx{Key: testKey, Now: now, Policy: Policy{Kind: CachedOrFetch}, SotMeta: meta, TTL: time.Minute}

	v := New()
	first := v.Plan(ctx)
	for i := 0; i < 10; i++ {
		got := v.Plan(ctx)
		if got != first {
			t.Fatalf("Plan is not pure: call %d returned %+v, first call returned %+v", i, got, first)
		}
	}
}

func TestServedStaleNow(t *testing.T) {
	now := time.Unix(1000, 0)

	if ServedStaleNow(false, Policy{Kind: CachedOrFetch}, now, now) {
		t.Fatalf("expected false when no cached data was present")
	}
	if !ServedStaleNow(true, Policy{Kind: CachedOrFetch}, now, now) {
		t.Fatalf("expected CachedOrFetch to tolerate staleness")
	}
	if ServedStaleNow(true, Policy{Kind: MustBeFresh}, now, now) {
		t.Fatalf("MustBeFresh must never serve stale")
	}

	withinWindow := ServedStaleNow(true, Policy{Kind: StaleIfError, Window: time.Minute}, now.Add(-30*time.Second), now)
	if !withinWindow {
		t.Fatalf("expected reference within window to tolerate staleness")
	}
	outsideWindow := ServedStaleNow(true, Policy{Kind: StaleIfError, Window: time.Minute}, now.Add(-2*time.Minute), now)
	if outsideWindow {
		t.Fatalf("expected reference outside window to not tolerate staleness")
	}
}

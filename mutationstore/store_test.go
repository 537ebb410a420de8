package mutationstore

import (
	"context"
	"testing"
	"time"

	"github.com/matt-ramotar/storex/config"
	"github.com/matt-ramotar/storex/converter"
	"github.com/matt-ramotar/storex/fetcher"
	"github.com/matt-ramotar/storex/freshness"
	"github.com/matt-ramotar/storex/pkg/clock"
	"github.com/matt-ramotar/storex/readstore"
	"github.com/matt-ramotar/storex/sot"
	"github.com/matt-ramotar/storex/storekey"
)

// note, value is both the domain type and the network/projection type
// in this test double, mirroring readstore's own test style.
type note struct {
	Body string
	Etag string
}

type noteConverter struct{ clk clock.Clock }

func (c noteConverter) NetToDbWrite(key storekey.StoreKey, net note) (note, error) { return net, nil }
func (c noteConverter) DbReadToDomain(key storekey.StoreKey, proj note) (note, error) {
	return proj, nil
}
func (c noteConverter) DbMetaFromProjection(proj note) *freshness.EntityMeta {
	return &freshness.EntityMeta{UpdatedAt: c.clk.Now(), Etag: proj.Etag}
}
func (c noteConverter) DomainToDbWrite(key storekey.StoreKey, domain note) (note, error) {
	return domain, nil
}
func (c noteConverter) NetMeta(net note) *freshness.EntityMeta { return nil }

type notePatch struct{ Body string }

type noteEncoder struct{}

func (e noteEncoder) FromPatch(patch notePatch) (notePatch, error) { return patch, nil }
func (e noteEncoder) FromDraft(draft note) (note, error)           { return draft, nil }
func (e noteEncoder) FromValue(value note) (note, error)           { return value, nil }
func (e noteEncoder) ApplyPatchLocally(current note, patch notePatch) (note, error) {
	current.Body = patch.Body
	return current, nil
}

var _ converter.MutationEncoder[notePatch, note, note, notePatch, note, note] = noteEncoder{}

func newTestMutationStore(t *testing.T) (*Store[note, note, note, note, notePatch, note, notePatch, note, note, note], *sot.Memory[note], *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	mem := sot.NewMemory[note]()
	ff := fetcher.FuncFetcher[note](func(ctx context.Context, req fetcher.Request) (note, *fetcher.Conditional, error) {
		return note{}, nil, nil
	})

	cfg := config.DefaultConfig()
	cfg.DefaultFreshnessTTL = time.Minute
	rs := readstore.New[note, note, note, note](readstore.Deps[note, note, note, note]{
		SoT:       mem,
		Fetcher:   ff,
		Converter: noteConverter{clk: fc},
		Clock:     fc,
	}, cfg)

	deps := Deps[note, note, note, note, notePatch, note, notePatch, note, note, note]{
		Encoder: noteEncoder{},
	}
	ms := New[note, note, note, note, notePatch, note, notePatch, note, note, note](rs, deps, cfg)
	return ms, mem, fc
}

func TestUpdateSuccessWritesThroughAndClearsCache(t *testing.T) {
	ms, mem, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "1"}
	_ = mem.Write(context.Background(), key, note{Body: "original", Etag: "v1"})

	ms.deps.Updater = UpdaterFunc[notePatch, note](func(ctx context.Context, k storekey.StoreKey, patch notePatch, precond Precondition, idem string) RemoteOutcome[note] {
		echo := note{Body: patch.Body, Etag: "v2"}
		return RemoteOutcome[note]{Kind: RemoteSuccess, Echo: &echo, Etag: "v2"}
	})
	ms.deps.EchoToWrite = func(key storekey.StoreKey, echo note) (note, error) { return echo, nil }

	result := ms.Update(context.Background(), key, notePatch{Body: "updated"}, DefaultUpdatePolicy())
	if result.Kind != UpdateSynced {
		t.Fatalf("result = %+v, want Synced", result)
	}

	got, err := ms.Get(context.Background(), key, freshness.Policy{Kind: freshness.CachedOrFetch})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Body != "updated" || got.Etag != "v2" {
		t.Fatalf("got = %+v, want updated/v2", got)
	}
}

func TestUpdateFailureWithoutRequireOnlineEnqueuesRetry(t *testing.T) {
	ms, mem, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "1"}
	_ = mem.Write(context.Background(), key, note{Body: "original"})

	var calls int
	done := make(chan struct{}, 1)
	ms.deps.Updater = UpdaterFunc[notePatch, note](func(ctx context.Context, k storekey.StoreKey, patch notePatch, precond Precondition, idem string) RemoteOutcome[note] {
		calls++
		if calls == 1 {
			return RemoteOutcome[note]{Kind: RemoteFailure, Cause: errBoom{}}
		}
		select {
		case done <- struct{}{}:
		default:
		}
		echo := note{Body: patch.Body, Etag: "v2"}
		return RemoteOutcome[note]{Kind: RemoteSuccess, Echo: &echo, Etag: "v2"}
	})
	ms.deps.EchoToWrite = func(key storekey.StoreKey, echo note) (note, error) { return echo, nil }

	policy := DefaultUpdatePolicy()
	result := ms.Update(context.Background(), key, notePatch{Body: "updated"}, policy)
	if result.Kind != UpdateEnqueued {
		t.Fatalf("result = %+v, want Enqueued", result)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("retry queue never re-attempted the update")
	}
}

func TestUpdateRequireOnlineFailsWithoutEnqueue(t *testing.T) {
	ms, mem, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "1"}
	_ = mem.Write(context.Background(), key, note{Body: "original"})

	ms.deps.Updater = UpdaterFunc[notePatch, note](func(ctx context.Context, k storekey.StoreKey, patch notePatch, precond Precondition, idem string) RemoteOutcome[note] {
		return RemoteOutcome[note]{Kind: RemoteFailure, Cause: errBoom{}}
	})

	policy := DefaultUpdatePolicy()
	policy.RequireOnline = true
	result := ms.Update(context.Background(), key, notePatch{Body: "updated"}, policy)
	if result.Kind != UpdateFailed {
		t.Fatalf("result = %+v, want Failed", result)
	}
}

func TestUpdateConflictServerWinsFailsWithCause(t *testing.T) {
	ms, mem, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "1"}
	_ = mem.Write(context.Background(), key, note{Body: "original"})

	ms.deps.Updater = UpdaterFunc[notePatch, note](func(ctx context.Context, k storekey.StoreKey, patch notePatch, precond Precondition, idem string) RemoteOutcome[note] {
		return RemoteOutcome[note]{Kind: RemoteConflict, ServerVersionTag: "srv-3"}
	})

	result := ms.Update(context.Background(), key, notePatch{Body: "updated"}, DefaultUpdatePolicy())
	if result.Kind != UpdateFailed || result.Cause == nil {
		t.Fatalf("result = %+v, want Failed with a conflict cause", result)
	}
}

func TestCreateWithRekeyMovesProvisionalToCanonical(t *testing.T) {
	ms, _, _ := newTestMutationStore(t)
	defer ms.Close()

	var provisionalSeen storekey.StoreKey
	canonical := storekey.ByIdKey{NS: "notes", Type: "note", ID: "srv-1"}
	ms.deps.Creator = CreatorFunc[note, note](func(ctx context.Context, provisional storekey.StoreKey, draft note, idem string) (storekey.StoreKey, RemoteOutcome[note]) {
		provisionalSeen = provisional
		echo := draft
		echo.Etag = "v1"
		return canonical, RemoteOutcome[note]{Kind: RemoteSuccess, Echo: &echo, Etag: "v1"}
	})
	ms.deps.EchoToWrite = func(key storekey.StoreKey, echo note) (note, error) { return echo, nil }

	result := ms.Create(context.Background(), "notes", "note", note{Body: "A"}, DefaultCreatePolicy())
	if result.Kind != CreateSynced {
		t.Fatalf("result = %+v, want Synced", result)
	}
	if !result.WasRekeyed || result.Canonical.CanonicalString() != canonical.CanonicalString() {
		t.Fatalf("result = %+v, want a rekey to %v", result, canonical)
	}
	if provisionalSeen.CanonicalString() == canonical.CanonicalString() {
		t.Fatalf("expected a distinct provisional key before rekey")
	}

	got, err := ms.Get(context.Background(), provisionalSeen, freshness.Policy{Kind: freshness.CachedOrFetch})
	if err != nil {
		t.Fatalf("get via provisional alias: %v", err)
	}
	if got.Body != "A" {
		t.Fatalf("got = %+v, want body A (resolved via alias)", got)
	}
}

func TestDeleteSuccessMarksTombstone(t *testing.T) {
	ms, mem, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "1"}
	_ = mem.Write(context.Background(), key, note{Body: "gone-soon"})

	ms.deps.Deleter = DeleterFunc(func(ctx context.Context, k storekey.StoreKey, precond Precondition) RemoteOutcome[struct{}] {
		return RemoteOutcome[struct{}]{Kind: RemoteSuccess}
	})

	result := ms.Delete(context.Background(), key, DefaultDeletePolicy())
	if result.Kind != DeleteSynced {
		t.Fatalf("result = %+v, want Synced", result)
	}
	if !ms.tombstones.IsTombstoned(key, time.Unix(0, 0)) {
		t.Fatalf("expected key to be tombstoned after a successful delete")
	}
}

func TestUpsertCreatesWhenAbsent(t *testing.T) {
	ms, _, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "2"}
	ms.deps.Putser = PutserFunc[note, note](func(ctx context.Context, k storekey.StoreKey, body note, precond Precondition, idem string) RemoteOutcome[note] {
		echo := body
		echo.Etag = "v1"
		return RemoteOutcome[note]{Kind: RemoteSuccess, Echo: &echo, Etag: "v1"}
	})
	ms.deps.EchoToWrite = func(key storekey.StoreKey, echo note) (note, error) { return echo, nil }

	result := ms.Upsert(context.Background(), key, note{Body: "new"}, DefaultUpsertPolicy())
	if result.Kind != UpsertSynced || !result.Created {
		t.Fatalf("result = %+v, want Synced/Created", result)
	}
}

func TestReplaceSuccess(t *testing.T) {
	ms, mem, _ := newTestMutationStore(t)
	defer ms.Close()

	key := storekey.ByIdKey{NS: "notes", Type: "note", ID: "1"}
	_ = mem.Write(context.Background(), key, note{Body: "original"})

	ms.deps.Putser = PutserFunc[note, note](func(ctx context.Context, k storekey.StoreKey, body note, precond Precondition, idem string) RemoteOutcome[note] {
		echo := body
		echo.Etag = "v2"
		return RemoteOutcome[note]{Kind: RemoteSuccess, Echo: &echo, Etag: "v2"}
	})
	ms.deps.EchoToWrite = func(key storekey.StoreKey, echo note) (note, error) { return echo, nil }

	result := ms.Replace(context.Background(), key, note{Body: "replaced"}, DefaultReplacePolicy())
	if result.Kind != ReplaceSynced {
		t.Fatalf("result = %+v, want Synced", result)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

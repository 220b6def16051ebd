package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/fixwerk/shopshift/internal/adapter/ristretto"
	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/dualwrite"
	"github.com/fixwerk/shopshift/internal/port/database"
	"github.com/fixwerk/shopshift/internal/registry"
)

type fakeState struct {
	recs      map[string]*migration.Record
	reads     int
	readPaths map[string]migration.ReadPath
	diverged  []migration.DivergenceRecord
}

func newFakeState() *fakeState {
	return &fakeState{
		recs:      make(map[string]*migration.Record),
		readPaths: make(map[string]migration.ReadPath),
	}
}

func (f *fakeState) GetMigration(_ context.Context, shopID string) (*migration.Record, error) {
	f.reads++
	rec, ok := f.recs[shopID]
	if !ok {
		return nil, fmt.Errorf("migration %s: %w", shopID, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeState) SetReadPath(_ context.Context, shopID string, path migration.ReadPath) error {
	f.readPaths[shopID] = path
	return nil
}

func (f *fakeState) EnqueueDivergence(_ context.Context, rec *migration.DivergenceRecord) error {
	f.diverged = append(f.diverged, *rec)
	return nil
}

// stubStore labels itself so tests can see which binding was chosen.
type stubStore struct {
	database.ShopStore
	label string
}

type fakeSource struct {
	opened   []string
	released int
	failRole registry.Role
}

func (f *fakeSource) Open(_ context.Context, shopID string, role registry.Role) (database.ShopStore, func(), error) {
	if f.failRole != "" && role == f.failRole {
		return nil, nil, domain.ErrConnExhausted
	}
	f.opened = append(f.opened, string(role))
	return &stubStore{label: string(role)}, func() { f.released++ }, nil
}

func testRouter(t *testing.T, state *fakeState, source *fakeSource) *Router {
	t.Helper()
	cache, err := ristretto.New(1<<20, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(cache.Close)
	return New(state, source, cache, config.Breaker{MaxFailures: 5, Timeout: time.Second},
		nil, nil, nil, slog.New(slog.DiscardHandler))
}

func record(phase migration.Phase, path migration.ReadPath) *migration.Record {
	return &migration.Record{ShopID: "shop-1", Phase: phase, ReadPath: path}
}

func TestResolveUnknownShop(t *testing.T) {
	r := testRouter(t, newFakeState(), &fakeSource{})

	_, err := r.Resolve(context.Background(), "nope")
	if !errors.Is(err, domain.ErrTenantUnresolved) {
		t.Fatalf("expected ErrTenantUnresolved, got %v", err)
	}
}

func TestResolveCachesRecords(t *testing.T) {
	state := newFakeState()
	state.recs["shop-1"] = record(migration.PhaseNotStarted, migration.ReadLegacy)
	r := testRouter(t, state, &fakeSource{})

	if _, err := r.Resolve(context.Background(), "shop-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.cache.Wait()
	if _, err := r.Resolve(context.Background(), "shop-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if state.reads != 1 {
		t.Fatalf("expected one store read, got %d", state.reads)
	}
}

func TestBindPerPhase(t *testing.T) {
	tests := []struct {
		name  string
		rec   *migration.Record
		wants []string // roles opened, in order
		dual  bool
	}{
		{"not started", record(migration.PhaseNotStarted, migration.ReadLegacy), []string{"legacy"}, false},
		{"provisioning", record(migration.PhaseProvisioning, migration.ReadLegacy), []string{"legacy"}, false},
		{"dual write", record(migration.PhaseDualWrite, migration.ReadLegacy), []string{"legacy", "tenant"}, true},
		{"backfilling", record(migration.PhaseBackfilling, migration.ReadLegacy), []string{"legacy", "tenant"}, true},
		{"validating", record(migration.PhaseValidating, migration.ReadLegacy), []string{"legacy", "tenant"}, true},
		{"read cutover", record(migration.PhaseReadCutover, migration.ReadTenant), []string{"tenant"}, false},
		{"cutover rolled back", record(migration.PhaseReadCutover, migration.ReadLegacy), []string{"legacy", "tenant"}, true},
		{"legacy retired", record(migration.PhaseLegacyRetired, migration.ReadTenant), []string{"tenant"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newFakeState()
			state.recs["shop-1"] = tt.rec
			source := &fakeSource{}
			r := testRouter(t, state, source)

			store, release, err := r.Bind(context.Background(), "shop-1")
			if err != nil {
				t.Fatalf("Bind: %v", err)
			}
			defer release()

			if len(source.opened) != len(tt.wants) {
				t.Fatalf("opened %v, want %v", source.opened, tt.wants)
			}
			for i, role := range tt.wants {
				if source.opened[i] != role {
					t.Fatalf("opened %v, want %v", source.opened, tt.wants)
				}
			}

			_, isProxy := store.(*dualwrite.Proxy)
			if isProxy != tt.dual {
				t.Fatalf("proxy binding = %v, want %v", isProxy, tt.dual)
			}
		})
	}
}

func TestBindFailedShopKeepsPriorTraffic(t *testing.T) {
	rec := record(migration.PhaseFailed, migration.ReadLegacy)
	rec.FailedFrom = migration.PhaseBackfilling
	state := newFakeState()
	state.recs["shop-1"] = rec
	source := &fakeSource{}
	r := testRouter(t, state, source)

	store, release, err := r.Bind(context.Background(), "shop-1")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer release()

	if _, ok := store.(*dualwrite.Proxy); !ok {
		t.Fatal("failed-from-backfilling shop should still dual-write")
	}
}

func TestBindReleasesLegacyWhenTenantOpenFails(t *testing.T) {
	state := newFakeState()
	state.recs["shop-1"] = record(migration.PhaseDualWrite, migration.ReadLegacy)
	source := &fakeSource{failRole: registry.RoleTenant}
	r := testRouter(t, state, source)

	_, _, err := r.Bind(context.Background(), "shop-1")
	if !errors.Is(err, domain.ErrConnExhausted) {
		t.Fatalf("expected ErrConnExhausted, got %v", err)
	}
	if source.released != 1 {
		t.Fatalf("legacy lease not released, released=%d", source.released)
	}
}

func TestSwitchReadsInvalidatesCache(t *testing.T) {
	state := newFakeState()
	state.recs["shop-1"] = record(migration.PhaseReadCutover, migration.ReadTenant)
	r := testRouter(t, state, &fakeSource{})

	if _, err := r.Resolve(context.Background(), "shop-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.cache.Wait()

	if err := r.SwitchReads(context.Background(), "shop-1", migration.ReadLegacy); err != nil {
		t.Fatalf("SwitchReads: %v", err)
	}
	if state.readPaths["shop-1"] != migration.ReadLegacy {
		t.Fatal("read path not persisted")
	}

	state.recs["shop-1"].ReadPath = migration.ReadLegacy
	rec, err := r.Resolve(context.Background(), "shop-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.ReadPath != migration.ReadLegacy {
		t.Fatal("stale record served after SwitchReads")
	}
}

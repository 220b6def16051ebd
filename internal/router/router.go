// Package router resolves which store serves a shop's traffic. It reads
// the shop's migration record (through a short-TTL cache), picks the
// storage implementation the current phase demands, and binds the shop
// storage capability to it for the duration of one request.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fixwerk/shopshift/internal/adapter/ristretto"
	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/dualwrite"
	"github.com/fixwerk/shopshift/internal/port/database"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/registry"
	"github.com/fixwerk/shopshift/internal/resilience"
)

// State is the slice of the control-plane store the router needs. The
// divergence writer is included because the router assembles dual-write
// proxies, which queue failed mirror writes there.
type State interface {
	GetMigration(ctx context.Context, shopID string) (*migration.Record, error)
	SetReadPath(ctx context.Context, shopID string, path migration.ReadPath) error
	EnqueueDivergence(ctx context.Context, rec *migration.DivergenceRecord) error
}

// StoreSource opens a bound shop store for one shop and role. The release
// function returns the underlying connection lease to the registry.
type StoreSource interface {
	Open(ctx context.Context, shopID string, role registry.Role) (database.ShopStore, func(), error)
}

// Router binds shop requests to the store their migration phase demands.
type Router struct {
	state    State
	source   StoreSource
	cache    *ristretto.RecordCache
	brkCfg   config.Breaker
	queue    messagequeue.Queue
	metrics  dualwrite.Recorder
	notifier dualwrite.Notifier
	log      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// New creates a Router. queue, metrics, and notifier may be nil.
func New(state State, source StoreSource, cache *ristretto.RecordCache,
	brkCfg config.Breaker, queue messagequeue.Queue, metrics dualwrite.Recorder,
	notifier dualwrite.Notifier, log *slog.Logger) *Router {
	return &Router{
		state:    state,
		source:   source,
		cache:    cache,
		brkCfg:   brkCfg,
		queue:    queue,
		metrics:  metrics,
		notifier: notifier,
		log:      log.With("component", "router"),
		breakers: make(map[string]*resilience.Breaker),
	}
}

// Resolve returns the migration record for a shop, served from cache when
// fresh. Unknown shops resolve to domain.ErrTenantUnresolved.
func (r *Router) Resolve(ctx context.Context, shopID string) (*migration.Record, error) {
	if rec, ok := r.cache.Get(shopID); ok {
		return rec, nil
	}

	rec, err := r.state.GetMigration(ctx, shopID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("shop %s: %w", shopID, domain.ErrTenantUnresolved)
		}
		return nil, fmt.Errorf("resolve shop %s: %w", shopID, err)
	}

	r.cache.Set(rec)
	return rec, nil
}

// Invalidate drops the cached record for a shop. The coordinator calls it
// after every state change it persists.
func (r *Router) Invalidate(shopID string) {
	r.cache.Invalidate(shopID)
}

// Bind opens the store (or store pair) serving this shop right now and
// returns it as a bound capability. The caller must call release when the
// request is done.
func (r *Router) Bind(ctx context.Context, shopID string) (database.ShopStore, func(), error) {
	rec, err := r.Resolve(ctx, shopID)
	if err != nil {
		return nil, nil, err
	}

	phase := rec.EffectivePhase()
	switch {
	case phase == migration.PhaseLegacyRetired, rec.ReadsFromTenant():
		// The isolated store is the sole authority.
		return r.source.Open(ctx, shopID, registry.RoleTenant)

	case phase.DualWrites() || phase.TenantAuthoritative():
		// Transition traffic, including a cutover rolled back to legacy
		// reads: writes land on both stores, legacy stays authoritative.
		return r.bindDual(ctx, shopID, rec)

	default:
		// Not started, provisioning, or failed before dual-write began.
		return r.source.Open(ctx, shopID, registry.RoleLegacy)
	}
}

func (r *Router) bindDual(ctx context.Context, shopID string, rec *migration.Record) (database.ShopStore, func(), error) {
	legacy, releaseLegacy, err := r.source.Open(ctx, shopID, registry.RoleLegacy)
	if err != nil {
		return nil, nil, err
	}
	tenant, releaseTenant, err := r.source.Open(ctx, shopID, registry.RoleTenant)
	if err != nil {
		releaseLegacy()
		return nil, nil, err
	}

	proxy := dualwrite.New(dualwrite.Deps{
		ShopID:     shopID,
		Legacy:     legacy,
		Tenant:     tenant,
		ReadTenant: rec.ReadsFromTenant(),
		Breaker:    r.breaker(shopID),
		State:      r.state,
		Queue:      r.queue,
		Metrics:    r.metrics,
		Notifier:   r.notifier,
		Log:        r.log,
	})
	release := func() {
		releaseTenant()
		releaseLegacy()
	}
	return proxy, release, nil
}

// breaker returns the per-shop circuit breaker guarding mirror writes.
// Breakers are shared across requests so failure history accumulates.
func (r *Router) breaker(shopID string) *resilience.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[shopID]
	if !ok {
		b = resilience.NewBreaker(r.brkCfg.MaxFailures, r.brkCfg.Timeout)
		r.breakers[shopID] = b
	}
	return b
}

// SwitchReads flips where reads for a shop are answered and drops the
// cached record so the change takes effect on the next request.
func (r *Router) SwitchReads(ctx context.Context, shopID string, target migration.ReadPath) error {
	if err := r.state.SetReadPath(ctx, shopID, target); err != nil {
		return fmt.Errorf("switch reads for shop %s: %w", shopID, err)
	}
	r.cache.Invalidate(shopID)
	r.log.Info("read path switched", "shop_id", shopID, "target", string(target))
	return nil
}

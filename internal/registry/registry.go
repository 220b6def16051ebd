// Package registry owns pooled, reference-counted connections to every
// physical store: the legacy shared store and one store per migrated shop,
// keyed by (shop, role). All cross-component store access goes through
// Acquire/Release; raw pools are never passed around uncontrolled.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"

	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
)

// Role names which store a connection belongs to for a given shop.
type Role string

const (
	// RoleLegacy is the shared store all shops start on. Every shop maps
	// to the same underlying pool under this role.
	RoleLegacy Role = "legacy"
	// RoleTenant is a shop's isolated store, one pool per migrated shop.
	RoleTenant Role = "tenant"
)

type key struct {
	shopID string
	role   Role
}

// entry tracks one physical store: its DSN, a lazily opened pool, a
// semaphore bounding concurrent leases, and refcount bookkeeping.
type entry struct {
	mu          sync.Mutex
	dsn         string
	pool        *pgxpool.Pool
	sem         *semaphore.Weighted
	refs        int
	pinned      bool // never closed by the janitor (legacy store)
	lastRelease time.Time
}

// Registry is the connection registry.
type Registry struct {
	cfg config.Registry

	mu       sync.RWMutex
	entries  map[key]*entry
	defaults map[Role]string

	// openPool is swappable in tests.
	openPool func(ctx context.Context, dsn string) (*pgxpool.Pool, error)
	now      func() time.Time
}

// New creates an empty registry.
func New(cfg config.Registry) *Registry {
	return &Registry{
		cfg:      cfg,
		entries:  make(map[key]*entry),
		defaults: make(map[Role]string),
		openPool: openPool,
		now:      time.Now,
	}
}

// openPool creates a pgxpool for one physical store.
func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// Register records a store under (shopID, role). The pool is opened lazily
// on first acquire. Pinned stores are never closed by CloseIdle.
// Re-registering an identical DSN is a no-op, so registration is idempotent.
func (r *Registry) Register(shopID string, role Role, dsn string, pinned bool) error {
	k := key{shopID: shopID, role: role}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[k]; ok {
		if e.dsn == dsn {
			return nil
		}
		return fmt.Errorf("store %s/%s already registered with a different dsn: %w", shopID, role, domain.ErrConflict)
	}

	r.entries[k] = &entry{
		dsn:    dsn,
		sem:    semaphore.NewWeighted(r.maxLeases()),
		pinned: pinned,
	}
	return nil
}

func (r *Registry) maxLeases() int64 {
	max := int64(r.cfg.MaxConnsPerStore)
	if max < 1 {
		max = 1
	}
	return max
}

// SetDefaultDSN sets a fallback DSN for a role: acquiring an unregistered
// (shop, role) pair auto-registers it against the fallback. Every shop
// starts on the legacy shared store, so the legacy role carries a default
// and only migrated shops need explicit tenant registrations.
func (r *Registry) SetDefaultDSN(role Role, dsn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[role] = dsn
}

// registerDefault creates an entry from the role default, if one is set.
func (r *Registry) registerDefault(k key) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[k]; ok {
		return e, true
	}
	dsn, ok := r.defaults[k.role]
	if !ok {
		return nil, false
	}
	e := &entry{dsn: dsn, sem: semaphore.NewWeighted(r.maxLeases())}
	r.entries[k] = e
	return e, true
}

// Registered reports whether a store exists under (shopID, role).
func (r *Registry) Registered(shopID string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key{shopID: shopID, role: role}]
	return ok
}

// DSN returns the DSN registered under (shopID, role).
func (r *Registry) DSN(shopID string, role Role) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key{shopID: shopID, role: role}]
	if !ok {
		return "", fmt.Errorf("store %s/%s: %w", shopID, role, domain.ErrNotFound)
	}
	return e.dsn, nil
}

// Acquire leases a connection pool for (shopID, role). Leases are bounded
// per store; when the bound is reached Acquire blocks up to the configured
// acquire timeout and then fails with domain.ErrConnExhausted. The caller
// must Release the handle on every path.
func (r *Registry) Acquire(ctx context.Context, shopID string, role Role) (*Handle, error) {
	k := key{shopID: shopID, role: role}
	r.mu.RLock()
	e, ok := r.entries[k]
	r.mu.RUnlock()
	if !ok {
		e, ok = r.registerDefault(k)
	}
	if !ok {
		return nil, fmt.Errorf("store %s/%s: %w", shopID, role, domain.ErrNotFound)
	}

	acquireCtx := ctx
	if r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}
	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("store %s/%s: %w", shopID, role, domain.ErrConnExhausted)
	}

	pool, err := r.lease(ctx, e)
	if err != nil {
		e.sem.Release(1)
		return nil, fmt.Errorf("store %s/%s: %w", shopID, role, err)
	}

	return &Handle{reg: r, entry: e, p: pool, shopID: shopID, role: role}, nil
}

// lease returns the entry's pool, opening it on first use, and counts the
// reference in the same critical section. The idle sweeper takes the same
// lock, so it can never observe refs == 0 for a pool that was just handed
// out.
func (r *Registry) lease(ctx context.Context, e *entry) (*pgxpool.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool == nil {
		pool, err := r.openPool(ctx, e.dsn)
		if err != nil {
			return nil, err
		}
		e.pool = pool
	}
	e.refs++
	return e.pool, nil
}

// HealthCheck reports whether the store under (shopID, role) answers a ping.
func (r *Registry) HealthCheck(ctx context.Context, shopID string, role Role) bool {
	h, err := r.Acquire(ctx, shopID, role)
	if err != nil {
		return false
	}
	defer h.Release()
	if h.p == nil {
		return false
	}
	return h.p.Ping(ctx) == nil
}

// Deregister removes a store. It fails while leases are outstanding.
func (r *Registry) Deregister(shopID string, role Role) error {
	k := key{shopID: shopID, role: role}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[k]
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs > 0 {
		return fmt.Errorf("store %s/%s has %d outstanding leases: %w", shopID, role, e.refs, domain.ErrConflict)
	}
	if e.pool != nil {
		e.pool.Close()
	}
	delete(r.entries, k)
	return nil
}

// CloseIdle closes pools that have had no leases for the configured idle
// timeout. The DSN registration is kept so the pool reopens on demand.
// Pinned stores are skipped. Returns the number of pools closed.
func (r *Registry) CloseIdle() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	closed := 0
	for k, e := range r.entries {
		e.mu.Lock()
		idle := e.refs == 0 && e.pool != nil && !e.pinned &&
			!e.lastRelease.IsZero() && r.now().Sub(e.lastRelease) >= r.cfg.IdleTimeout
		if idle {
			e.pool.Close()
			e.pool = nil
			closed++
			slog.Debug("closed idle store pool", "shop_id", k.shopID, "role", string(k.role))
		}
		e.mu.Unlock()
	}
	return closed
}

// Shops returns the shop IDs that have a store registered under role.
func (r *Registry) Shops(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for k := range r.entries {
		if k.role == role {
			ids = append(ids, k.shopID)
		}
	}
	return ids
}

// Close shuts down every open pool.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.mu.Lock()
		if e.pool != nil {
			e.pool.Close()
			e.pool = nil
		}
		e.mu.Unlock()
	}
}

// Handle is a reference-counted lease on a pooled store connection.
// Release is idempotent and must run on scope exit regardless of outcome.
type Handle struct {
	reg    *Registry
	entry  *entry
	p      *pgxpool.Pool
	shopID string
	role   Role
	once   sync.Once
}

// Pool returns the underlying connection pool.
func (h *Handle) Pool() *pgxpool.Pool { return h.p }

// ShopID returns the shop this lease belongs to.
func (h *Handle) ShopID() string { return h.shopID }

// Role returns the store role this lease belongs to.
func (h *Handle) Role() Role { return h.role }

// Release returns the lease. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.entry.mu.Lock()
		h.entry.refs--
		h.entry.lastRelease = h.reg.now()
		h.entry.mu.Unlock()
		h.entry.sem.Release(1)
	})
}

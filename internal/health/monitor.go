// Package health maintains an in-memory view of store reachability for
// every shop with an unfinished migration, periodically refreshed through
// the connection registry.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/registry"
)

// Checker answers whether the store under (shopID, role) is reachable.
// *registry.Registry satisfies it.
type Checker interface {
	HealthCheck(ctx context.Context, shopID string, role registry.Role) bool
}

// State lists the migrations whose stores need watching.
type State interface {
	ListMigrations(ctx context.Context) ([]migration.Record, error)
}

// Notifier pushes health changes to connected dashboards. May be nil.
type Notifier interface {
	Notify(event string, payload any)
}

// ShopHealth is the last observed reachability of one shop's stores.
type ShopHealth struct {
	ShopID    string    `json:"shop_id"`
	Phase     string    `json:"phase"`
	Legacy    bool      `json:"legacy"`
	Tenant    bool      `json:"tenant"`  // false until the shop store exists
	HasTenant bool      `json:"has_tenant"`
	CheckedAt time.Time `json:"checked_at"`
}

// Degraded reports whether any store the shop currently depends on is
// unreachable.
func (h ShopHealth) Degraded() bool {
	if !h.Legacy && h.Phase != string(migration.PhaseLegacyRetired) {
		return true
	}
	return h.HasTenant && !h.Tenant
}

// Monitor polls store health for every migrating shop.
type Monitor struct {
	checker  Checker
	state    State
	hub      Notifier
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	shops   map[string]ShopHealth
	lastRun time.Time
}

// NewMonitor creates a Monitor polling on the given interval. Pass
// interval <= 0 to disable periodic polling (manual Refresh only).
func NewMonitor(checker Checker, state State, hub Notifier, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		checker:  checker,
		state:    state,
		hub:      hub,
		interval: interval,
		log:      log.With("component", "health"),
		shops:    make(map[string]ShopHealth),
	}
}

// Start performs one synchronous refresh so Status has data immediately,
// then refreshes on the interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		m.log.Warn("initial health refresh failed", "error", err)
	}
	if m.interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Refresh(ctx); err != nil {
					m.log.Warn("health refresh failed", "error", err)
				}
			}
		}
	}()
}

// Refresh re-checks every watched shop and replaces the snapshot. Shops
// whose migration finished drop out of the view.
func (m *Monitor) Refresh(ctx context.Context) error {
	recs, err := m.state.ListMigrations(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	next := make(map[string]ShopHealth, len(recs))
	for _, rec := range recs {
		if rec.Phase.Terminal() {
			continue
		}
		h := ShopHealth{
			ShopID:    rec.ShopID,
			Phase:     string(rec.Phase),
			HasTenant: rec.TenantDSN != "",
			CheckedAt: now,
		}
		h.Legacy = m.checker.HealthCheck(ctx, rec.ShopID, registry.RoleLegacy)
		if h.HasTenant {
			h.Tenant = m.checker.HealthCheck(ctx, rec.ShopID, registry.RoleTenant)
		}
		next[rec.ShopID] = h

		if h.Degraded() {
			m.log.Warn("shop store unreachable",
				"shop_id", rec.ShopID, "legacy_ok", h.Legacy, "tenant_ok", h.Tenant)
		}
	}

	m.mu.Lock()
	changed := m.diff(next)
	m.shops = next
	m.lastRun = now
	m.mu.Unlock()

	if m.hub != nil {
		for _, h := range changed {
			m.hub.Notify(messagequeue.EventHealthChanged, h)
		}
	}
	return nil
}

// diff returns the shops whose degraded state flipped. Caller holds mu.
func (m *Monitor) diff(next map[string]ShopHealth) []ShopHealth {
	var changed []ShopHealth
	for id, h := range next {
		prev, seen := m.shops[id]
		if !seen || prev.Degraded() != h.Degraded() {
			if h.Degraded() || seen {
				changed = append(changed, h)
			}
		}
	}
	return changed
}

// Status returns the current snapshot, sorted by nothing in particular.
func (m *Monitor) Status() []ShopHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ShopHealth, 0, len(m.shops))
	for _, h := range m.shops {
		out = append(out, h)
	}
	return out
}

// Shop returns the last observation for one shop.
func (m *Monitor) Shop(shopID string) (ShopHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.shops[shopID]
	return h, ok
}

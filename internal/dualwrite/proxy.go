// Package dualwrite implements the transition-phase shop storage
// capability: every mutation lands on the legacy store synchronously and
// is mirrored to the isolated shop store on a best-effort basis. The
// legacy write is authoritative; a failed mirror write never fails the
// request, it becomes a durable divergence record that the synchronizer
// replays later.
package dualwrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/domain/workshop"
	"github.com/fixwerk/shopshift/internal/port/database"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/resilience"
	"github.com/fixwerk/shopshift/internal/schema"
)

// DivergenceWriter is the slice of the control-plane store the proxy needs.
type DivergenceWriter interface {
	EnqueueDivergence(ctx context.Context, rec *migration.DivergenceRecord) error
}

// Recorder counts recorded divergences for telemetry. May be nil.
type Recorder interface {
	DivergenceRecorded(ctx context.Context, shopID, table string)
}

// Notifier pushes divergence events to connected dashboards. May be nil.
type Notifier interface {
	Notify(event string, payload any)
}

// Deps carries the proxy's collaborators.
type Deps struct {
	ShopID     string
	Legacy     database.ShopStore
	Tenant     database.ShopStore
	ReadTenant bool // reads go to the shop store instead of legacy
	Breaker    *resilience.Breaker
	State      DivergenceWriter
	Queue      messagequeue.Queue // may be nil
	Metrics    Recorder           // may be nil
	Notifier   Notifier           // may be nil
	Log        *slog.Logger
}

// Proxy implements database.ShopStore over a legacy and a shop store pair.
type Proxy struct {
	d   Deps
	now func() time.Time

	// pending holds divergence records the control store refused, in
	// arrival order. They are re-enqueued before the next mirror write.
	mu      sync.Mutex
	pending []*migration.DivergenceRecord
}

// New creates a dual-write proxy.
func New(d Deps) *Proxy {
	d.Log = d.Log.With("component", "dualwrite", "shop_id", d.ShopID)
	return &Proxy{d: d, now: time.Now}
}

// reads returns the store that answers reads.
func (p *Proxy) reads() database.ShopStore {
	if p.d.ReadTenant {
		return p.d.Tenant
	}
	return p.d.Legacy
}

// mirror runs the shop-store leg of a dual write behind the circuit
// breaker. On failure the row is queued for replay and the error is
// swallowed; the legacy write already succeeded and stays authoritative.
func (p *Proxy) mirror(ctx context.Context, table, key string, fn func() error) {
	p.flushPending(ctx)

	err := p.d.Breaker.Execute(fn)
	if err == nil {
		return
	}

	p.d.Log.Warn("shop store write failed, recording divergence",
		"table", table, "key", key, "error", err)

	rec := &migration.DivergenceRecord{
		ID:          uuid.New().String(),
		ShopID:      p.d.ShopID,
		Table:       table,
		Key:         key,
		AttemptedAt: p.now().UTC(),
	}
	if !p.persist(ctx, rec) {
		p.d.Log.Error("failed to enqueue divergence, holding for retry",
			"table", table, "key", key)
		p.mu.Lock()
		p.pending = append(p.pending, rec)
		p.mu.Unlock()
	}
}

// persist writes one divergence record to the control store and, on
// success, counts and announces it.
func (p *Proxy) persist(ctx context.Context, rec *migration.DivergenceRecord) bool {
	if err := p.d.State.EnqueueDivergence(ctx, rec); err != nil {
		return false
	}
	if p.d.Metrics != nil {
		p.d.Metrics.DivergenceRecorded(ctx, p.d.ShopID, rec.Table)
	}
	if p.d.Notifier != nil {
		p.d.Notifier.Notify(messagequeue.EventDivergence, messagequeue.DivergenceEvent{
			ShopID: p.d.ShopID, Table: rec.Table, Key: rec.Key,
		})
	}
	if p.d.Queue != nil {
		p.publishDivergence(ctx, rec.Table, rec.Key)
	}
	return true
}

// flushPending re-enqueues records held from earlier control-store
// failures. Order is preserved; on the first failure the remainder stays
// held for the next attempt.
func (p *Proxy) flushPending(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	backlog := p.pending
	p.pending = nil
	p.mu.Unlock()

	for i, rec := range backlog {
		if !p.persist(ctx, rec) {
			p.mu.Lock()
			p.pending = append(backlog[i:], p.pending...)
			p.mu.Unlock()
			return
		}
		p.d.Log.Info("re-enqueued held divergence record",
			"table", rec.Table, "key", rec.Key)
	}
}

// PendingDivergence reports how many divergence records are held in
// memory awaiting a control store that accepts them.
func (p *Proxy) PendingDivergence() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Proxy) publishDivergence(ctx context.Context, table, key string) {
	data, err := json.Marshal(messagequeue.DivergenceEvent{
		ShopID: p.d.ShopID, Table: table, Key: key,
	})
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s", messagequeue.SubjectDivergence, p.d.ShopID)
	if err := p.d.Queue.Publish(ctx, subject, data); err != nil {
		p.d.Log.Warn("publish divergence event failed", "error", err)
	}
}

// stamp fills identity and timestamps before the write so both stores
// receive byte-identical rows; otherwise validation checksums could never
// match.
func (p *Proxy) stamp(id *string, createdAt, updatedAt *time.Time) {
	now := p.now().UTC().Truncate(time.Microsecond)
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt != nil && createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

// --- Customers ---

func (p *Proxy) ListCustomers(ctx context.Context) ([]workshop.Customer, error) {
	return p.reads().ListCustomers(ctx)
}

func (p *Proxy) GetCustomer(ctx context.Context, id string) (*workshop.Customer, error) {
	return p.reads().GetCustomer(ctx, id)
}

func (p *Proxy) PutCustomer(ctx context.Context, c *workshop.Customer) error {
	p.stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err := p.d.Legacy.PutCustomer(ctx, c); err != nil {
		return err
	}
	p.mirror(ctx, schema.TableCustomers, c.ID, func() error {
		return p.d.Tenant.PutCustomer(ctx, c)
	})
	return nil
}

func (p *Proxy) DeleteCustomer(ctx context.Context, id string) error {
	if err := p.d.Legacy.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	p.mirror(ctx, schema.TableCustomers, id, func() error {
		return ignoreNotFound(p.d.Tenant.DeleteCustomer(ctx, id))
	})
	return nil
}

// --- Repairs ---

func (p *Proxy) ListRepairs(ctx context.Context, customerID string) ([]workshop.Repair, error) {
	return p.reads().ListRepairs(ctx, customerID)
}

func (p *Proxy) GetRepair(ctx context.Context, id string) (*workshop.Repair, error) {
	return p.reads().GetRepair(ctx, id)
}

func (p *Proxy) PutRepair(ctx context.Context, r *workshop.Repair) error {
	p.stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err := p.d.Legacy.PutRepair(ctx, r); err != nil {
		return err
	}
	p.mirror(ctx, schema.TableRepairs, r.ID, func() error {
		return p.d.Tenant.PutRepair(ctx, r)
	})
	return nil
}

func (p *Proxy) DeleteRepair(ctx context.Context, id string) error {
	if err := p.d.Legacy.DeleteRepair(ctx, id); err != nil {
		return err
	}
	p.mirror(ctx, schema.TableRepairs, id, func() error {
		return ignoreNotFound(p.d.Tenant.DeleteRepair(ctx, id))
	})
	return nil
}

// --- Invoices ---

func (p *Proxy) ListInvoices(ctx context.Context, customerID string) ([]workshop.Invoice, error) {
	return p.reads().ListInvoices(ctx, customerID)
}

func (p *Proxy) GetInvoice(ctx context.Context, id string) (*workshop.Invoice, error) {
	return p.reads().GetInvoice(ctx, id)
}

func (p *Proxy) PutInvoice(ctx context.Context, inv *workshop.Invoice) error {
	p.stamp(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = inv.UpdatedAt
	}
	if err := p.d.Legacy.PutInvoice(ctx, inv); err != nil {
		return err
	}
	p.mirror(ctx, schema.TableInvoices, inv.ID, func() error {
		return p.d.Tenant.PutInvoice(ctx, inv)
	})
	return nil
}

// --- Settings ---

func (p *Proxy) GetSettings(ctx context.Context) (*workshop.Settings, error) {
	return p.reads().GetSettings(ctx)
}

func (p *Proxy) PutSettings(ctx context.Context, set *workshop.Settings) error {
	p.stamp(&set.ID, nil, &set.UpdatedAt)
	if err := p.d.Legacy.PutSettings(ctx, set); err != nil {
		return err
	}
	p.mirror(ctx, schema.TableSettings, set.ID, func() error {
		return p.d.Tenant.PutSettings(ctx, set)
	})
	return nil
}

// A delete mirrored to a store that never had the row is a no-op, not a
// divergence.
func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

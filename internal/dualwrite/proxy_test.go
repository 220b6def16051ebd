package dualwrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/domain/workshop"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/resilience"
	"github.com/fixwerk/shopshift/internal/schema"
)

// memStore is an in-memory database.ShopStore for tests.
type memStore struct {
	customers map[string]workshop.Customer
	repairs   map[string]workshop.Repair
	invoices  map[string]workshop.Invoice
	settings  *workshop.Settings
	failing   bool
}

func newMemStore() *memStore {
	return &memStore{
		customers: make(map[string]workshop.Customer),
		repairs:   make(map[string]workshop.Repair),
		invoices:  make(map[string]workshop.Invoice),
	}
}

func (m *memStore) err() error {
	if m.failing {
		return errors.New("store unavailable")
	}
	return nil
}

func (m *memStore) ListCustomers(context.Context) ([]workshop.Customer, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	out := make([]workshop.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) GetCustomer(_ context.Context, id string) (*workshop.Customer, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (m *memStore) PutCustomer(_ context.Context, c *workshop.Customer) error {
	if err := m.err(); err != nil {
		return err
	}
	m.customers[c.ID] = *c
	return nil
}

func (m *memStore) DeleteCustomer(_ context.Context, id string) error {
	if err := m.err(); err != nil {
		return err
	}
	if _, ok := m.customers[id]; !ok {
		return fmt.Errorf("customer %s: %w", id, domain.ErrNotFound)
	}
	delete(m.customers, id)
	return nil
}

func (m *memStore) ListRepairs(_ context.Context, customerID string) ([]workshop.Repair, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	var out []workshop.Repair
	for _, r := range m.repairs {
		if r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetRepair(_ context.Context, id string) (*workshop.Repair, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	r, ok := m.repairs[id]
	if !ok {
		return nil, fmt.Errorf("repair %s: %w", id, domain.ErrNotFound)
	}
	return &r, nil
}

func (m *memStore) PutRepair(_ context.Context, r *workshop.Repair) error {
	if err := m.err(); err != nil {
		return err
	}
	m.repairs[r.ID] = *r
	return nil
}

func (m *memStore) DeleteRepair(_ context.Context, id string) error {
	if err := m.err(); err != nil {
		return err
	}
	if _, ok := m.repairs[id]; !ok {
		return fmt.Errorf("repair %s: %w", id, domain.ErrNotFound)
	}
	delete(m.repairs, id)
	return nil
}

func (m *memStore) ListInvoices(_ context.Context, customerID string) ([]workshop.Invoice, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	var out []workshop.Invoice
	for _, inv := range m.invoices {
		if inv.CustomerID == customerID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) GetInvoice(_ context.Context, id string) (*workshop.Invoice, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	return &inv, nil
}

func (m *memStore) PutInvoice(_ context.Context, inv *workshop.Invoice) error {
	if err := m.err(); err != nil {
		return err
	}
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *memStore) GetSettings(context.Context) (*workshop.Settings, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	if m.settings == nil {
		return nil, fmt.Errorf("settings: %w", domain.ErrNotFound)
	}
	return m.settings, nil
}

func (m *memStore) PutSettings(_ context.Context, set *workshop.Settings) error {
	if err := m.err(); err != nil {
		return err
	}
	cp := *set
	m.settings = &cp
	return nil
}

type memQueue struct {
	enqueued []migration.DivergenceRecord
	attempts int
	err      error
}

func (m *memQueue) EnqueueDivergence(_ context.Context, rec *migration.DivergenceRecord) error {
	m.attempts++
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, *rec)
	return nil
}

func testProxy(legacy, tenant *memStore, state *memQueue) *Proxy {
	return New(Deps{
		ShopID:  "shop-1",
		Legacy:  legacy,
		Tenant:  tenant,
		Breaker: resilience.NewBreaker(5, time.Second),
		State:   state,
		Log:     slog.New(slog.DiscardHandler),
	})
}

func TestPutWritesBothStoresIdentically(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	p := testProxy(legacy, tenant, &memQueue{})

	c := &workshop.Customer{Name: "Ada", Email: "ada@example.com"}
	if err := p.PutCustomer(context.Background(), c); err != nil {
		t.Fatalf("PutCustomer: %v", err)
	}

	if c.ID == "" || c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Fatalf("identity not stamped before write: %+v", c)
	}
	lc, tc := legacy.customers[c.ID], tenant.customers[c.ID]
	if lc != tc {
		t.Fatalf("stores diverged:\nlegacy %+v\ntenant %+v", lc, tc)
	}
}

func TestTenantOutageKeepsLegacyAndRecordsDivergence(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	state := &memQueue{}
	tenant.failing = true
	p := testProxy(legacy, tenant, state)

	c := &workshop.Customer{Name: "Ada"}
	if err := p.PutCustomer(context.Background(), c); err != nil {
		t.Fatalf("PutCustomer should succeed on legacy alone: %v", err)
	}

	if _, ok := legacy.customers[c.ID]; !ok {
		t.Fatal("legacy store missing the row")
	}
	if len(tenant.customers) != 0 {
		t.Fatal("tenant store should be empty")
	}
	if len(state.enqueued) != 1 {
		t.Fatalf("expected exactly one divergence record, got %d", len(state.enqueued))
	}
	rec := state.enqueued[0]
	if rec.ShopID != "shop-1" || rec.Table != schema.TableCustomers || rec.Key != c.ID {
		t.Fatalf("divergence record fields wrong: %+v", rec)
	}
}

func TestLegacyFailureFailsTheWrite(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	state := &memQueue{}
	legacy.failing = true
	p := testProxy(legacy, tenant, state)

	if err := p.PutCustomer(context.Background(), &workshop.Customer{Name: "Ada"}); err == nil {
		t.Fatal("expected error when legacy write fails")
	}
	if len(state.enqueued) != 0 {
		t.Fatal("no divergence should be recorded for a failed authoritative write")
	}
}

func TestOpenBreakerShortCircuitsMirrorWrites(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	state := &memQueue{}
	tenant.failing = true
	p := New(Deps{
		ShopID:  "shop-1",
		Legacy:  legacy,
		Tenant:  tenant,
		Breaker: resilience.NewBreaker(2, time.Minute),
		State:   state,
		Log:     slog.New(slog.DiscardHandler),
	})

	for range 4 {
		if err := p.PutCustomer(context.Background(), &workshop.Customer{Name: "Ada"}); err != nil {
			t.Fatalf("PutCustomer: %v", err)
		}
	}

	// Every mirror failure, tripped breaker included, must queue a record.
	if len(state.enqueued) != 4 {
		t.Fatalf("expected 4 divergence records, got %d", len(state.enqueued))
	}
	if len(legacy.customers) != 4 {
		t.Fatalf("legacy should hold all rows, got %d", len(legacy.customers))
	}
}

func TestReadsFollowReadPath(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	legacy.customers["c1"] = workshop.Customer{ID: "c1", Name: "legacy copy"}
	tenant.customers["c1"] = workshop.Customer{ID: "c1", Name: "tenant copy"}

	p := testProxy(legacy, tenant, &memQueue{})
	got, err := p.GetCustomer(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if got.Name != "legacy copy" {
		t.Fatalf("reads should hit legacy before cutover, got %q", got.Name)
	}

	p.d.ReadTenant = true
	got, err = p.GetCustomer(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if got.Name != "tenant copy" {
		t.Fatalf("reads should hit tenant after cutover, got %q", got.Name)
	}
}

func TestControlStoreOutageHoldsDivergenceForReplay(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	state := &memQueue{err: errors.New("control store down")}
	tenant.failing = true
	p := testProxy(legacy, tenant, state)

	a := &workshop.Customer{Name: "Ada"}
	if err := p.PutCustomer(context.Background(), a); err != nil {
		t.Fatalf("PutCustomer: %v", err)
	}
	b := &workshop.Customer{Name: "Bob"}
	if err := p.PutCustomer(context.Background(), b); err != nil {
		t.Fatalf("PutCustomer: %v", err)
	}

	if len(state.enqueued) != 0 {
		t.Fatalf("enqueue should have failed, got %d records", len(state.enqueued))
	}
	if got := p.PendingDivergence(); got != 2 {
		t.Fatalf("expected 2 held records, got %d", got)
	}

	// Control store recovers; the next mirror write replays the backlog
	// before recording its own divergence.
	state.err = nil
	c := &workshop.Customer{Name: "Cyd"}
	if err := p.PutCustomer(context.Background(), c); err != nil {
		t.Fatalf("PutCustomer: %v", err)
	}

	if got := p.PendingDivergence(); got != 0 {
		t.Fatalf("backlog not drained, %d still held", got)
	}
	if len(state.enqueued) != 3 {
		t.Fatalf("expected 3 divergence records after recovery, got %d", len(state.enqueued))
	}
	want := []string{a.ID, b.ID, c.ID}
	for i, rec := range state.enqueued {
		if rec.Key != want[i] {
			t.Fatalf("record %d out of order: got key %s, want %s", i, rec.Key, want[i])
		}
	}
}

func TestHeldDivergencePreservesOrderOnPartialFlush(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	state := &memQueue{err: errors.New("control store down")}
	tenant.failing = true
	p := testProxy(legacy, tenant, state)

	a := &workshop.Customer{Name: "Ada"}
	_ = p.PutCustomer(context.Background(), a)

	// Still down on the next write: both records stay held, oldest first.
	b := &workshop.Customer{Name: "Bob"}
	_ = p.PutCustomer(context.Background(), b)
	if got := p.PendingDivergence(); got != 2 {
		t.Fatalf("expected 2 held records, got %d", got)
	}
	if state.attempts < 3 {
		t.Fatalf("expected held records to be retried, saw %d attempts", state.attempts)
	}
}

type memNotifier struct {
	events   []string
	payloads []any
}

func (m *memNotifier) Notify(event string, payload any) {
	m.events = append(m.events, event)
	m.payloads = append(m.payloads, payload)
}

func TestDivergenceIsPushedToDashboards(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	tenant.failing = true
	notes := &memNotifier{}
	p := testProxy(legacy, tenant, &memQueue{})
	p.d.Notifier = notes

	c := &workshop.Customer{Name: "Ada"}
	if err := p.PutCustomer(context.Background(), c); err != nil {
		t.Fatalf("PutCustomer: %v", err)
	}

	if len(notes.events) != 1 || notes.events[0] != messagequeue.EventDivergence {
		t.Fatalf("notified events = %v, want [%s]", notes.events, messagequeue.EventDivergence)
	}
	ev, ok := notes.payloads[0].(messagequeue.DivergenceEvent)
	if !ok {
		t.Fatalf("payload type %T, want DivergenceEvent", notes.payloads[0])
	}
	if ev.ShopID != "shop-1" || ev.Table != schema.TableCustomers || ev.Key != c.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDeleteOfDriftedRowIsNotADivergence(t *testing.T) {
	legacy, tenant := newMemStore(), newMemStore()
	legacy.customers["c1"] = workshop.Customer{ID: "c1"}
	state := &memQueue{}
	p := testProxy(legacy, tenant, state)

	if err := p.DeleteCustomer(context.Background(), "c1"); err != nil {
		t.Fatalf("DeleteCustomer: %v", err)
	}
	if len(state.enqueued) != 0 {
		t.Fatalf("missing tenant row on delete should not queue divergence, got %d", len(state.enqueued))
	}
}

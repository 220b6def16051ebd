package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixwerk/shopshift/internal/domain/workshop"
)

// Store implements database.ShopStore against one physical store. In
// shared mode every statement is discriminated by the bound shop ID (the
// legacy shared-schema shape); in isolated mode the store holds a single
// shop's rows and carries no discriminator column.
type Store struct {
	q      Querier
	shopID string
	shared bool
}

// NewSharedStore binds the shop storage capability to the legacy shared
// store for one shop.
func NewSharedStore(q Querier, shopID string) *Store {
	return &Store{q: q, shopID: shopID, shared: true}
}

// NewIsolatedStore binds the shop storage capability to an isolated
// per-shop store.
func NewIsolatedStore(q Querier) *Store {
	return &Store{q: q}
}

// --- Customers ---

func (s *Store) ListCustomers(ctx context.Context) ([]workshop.Customer, error) {
	var (
		sql  string
		args []any
	)
	if s.shared {
		sql = `SELECT id, name, email, phone, created_at, updated_at
		       FROM customers WHERE shop_id = $1 ORDER BY created_at DESC`
		args = []any{s.shopID}
	} else {
		sql = `SELECT id, name, email, phone, created_at, updated_at
		       FROM customers ORDER BY created_at DESC`
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var customers []workshop.Customer
	for rows.Next() {
		var c workshop.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*workshop.Customer, error) {
	var row scannable
	if s.shared {
		row = s.q.QueryRow(ctx,
			`SELECT id, name, email, phone, created_at, updated_at
			 FROM customers WHERE id = $1 AND shop_id = $2`, id, s.shopID)
	} else {
		row = s.q.QueryRow(ctx,
			`SELECT id, name, email, phone, created_at, updated_at
			 FROM customers WHERE id = $1`, id)
	}

	var c workshop.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get customer %s", id)
	}
	return &c, nil
}

// PutCustomer inserts or replaces a customer by primary key. Upsert
// semantics keep dual writes and backfill replays idempotent.
func (s *Store) PutCustomer(ctx context.Context, c *workshop.Customer) error {
	var err error
	if s.shared {
		_, err = s.q.Exec(ctx,
			`INSERT INTO customers (id, shop_id, name, email, phone, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE
			 SET name = $3, email = $4, phone = $5, updated_at = $7`,
			c.ID, s.shopID, c.Name, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt)
	} else {
		_, err = s.q.Exec(ctx,
			`INSERT INTO customers (id, name, email, phone, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET name = $2, email = $3, phone = $4, updated_at = $6`,
			c.ID, c.Name, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("put customer %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	if s.shared {
		tag, err := s.q.Exec(ctx, `DELETE FROM customers WHERE id = $1 AND shop_id = $2`, id, s.shopID)
		return execExpectOne(tag, err, "delete customer %s", id)
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete customer %s", id)
}

// --- Repairs ---

func (s *Store) ListRepairs(ctx context.Context, customerID string) ([]workshop.Repair, error) {
	var (
		sql  string
		args []any
	)
	if s.shared {
		sql = `SELECT id, customer_id, device, issue, status, price_cents, created_at, updated_at
		       FROM repairs WHERE customer_id = $1 AND shop_id = $2 ORDER BY created_at DESC`
		args = []any{customerID, s.shopID}
	} else {
		sql = `SELECT id, customer_id, device, issue, status, price_cents, created_at, updated_at
		       FROM repairs WHERE customer_id = $1 ORDER BY created_at DESC`
		args = []any{customerID}
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list repairs: %w", err)
	}
	defer rows.Close()

	var repairs []workshop.Repair
	for rows.Next() {
		r, err := scanRepair(rows)
		if err != nil {
			return nil, err
		}
		repairs = append(repairs, r)
	}
	return repairs, rows.Err()
}

func (s *Store) GetRepair(ctx context.Context, id string) (*workshop.Repair, error) {
	var row scannable
	if s.shared {
		row = s.q.QueryRow(ctx,
			`SELECT id, customer_id, device, issue, status, price_cents, created_at, updated_at
			 FROM repairs WHERE id = $1 AND shop_id = $2`, id, s.shopID)
	} else {
		row = s.q.QueryRow(ctx,
			`SELECT id, customer_id, device, issue, status, price_cents, created_at, updated_at
			 FROM repairs WHERE id = $1`, id)
	}

	r, err := scanRepair(row)
	if err != nil {
		return nil, notFoundWrap(err, "get repair %s", id)
	}
	return &r, nil
}

func (s *Store) PutRepair(ctx context.Context, r *workshop.Repair) error {
	var err error
	if s.shared {
		_, err = s.q.Exec(ctx,
			`INSERT INTO repairs (id, shop_id, customer_id, device, issue, status, price_cents, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE
			 SET customer_id = $3, device = $4, issue = $5, status = $6, price_cents = $7, updated_at = $9`,
			r.ID, s.shopID, r.CustomerID, r.Device, r.Issue, string(r.Status), r.PriceCents, r.CreatedAt, r.UpdatedAt)
	} else {
		_, err = s.q.Exec(ctx,
			`INSERT INTO repairs (id, customer_id, device, issue, status, price_cents, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE
			 SET customer_id = $2, device = $3, issue = $4, status = $5, price_cents = $6, updated_at = $8`,
			r.ID, r.CustomerID, r.Device, r.Issue, string(r.Status), r.PriceCents, r.CreatedAt, r.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("put repair %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) DeleteRepair(ctx context.Context, id string) error {
	if s.shared {
		tag, err := s.q.Exec(ctx, `DELETE FROM repairs WHERE id = $1 AND shop_id = $2`, id, s.shopID)
		return execExpectOne(tag, err, "delete repair %s", id)
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM repairs WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete repair %s", id)
}

func scanRepair(row scannable) (workshop.Repair, error) {
	var (
		r      workshop.Repair
		status string
	)
	if err := row.Scan(&r.ID, &r.CustomerID, &r.Device, &r.Issue, &status, &r.PriceCents, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	r.Status = workshop.RepairStatus(status)
	return r, nil
}

// --- Invoices ---

func (s *Store) ListInvoices(ctx context.Context, customerID string) ([]workshop.Invoice, error) {
	var (
		sql  string
		args []any
	)
	if s.shared {
		sql = `SELECT id, customer_id, repair_id, number, total_cents, issued_at, created_at, updated_at
		       FROM invoices WHERE customer_id = $1 AND shop_id = $2 ORDER BY issued_at DESC`
		args = []any{customerID, s.shopID}
	} else {
		sql = `SELECT id, customer_id, repair_id, number, total_cents, issued_at, created_at, updated_at
		       FROM invoices WHERE customer_id = $1 ORDER BY issued_at DESC`
		args = []any{customerID}
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []workshop.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*workshop.Invoice, error) {
	var row scannable
	if s.shared {
		row = s.q.QueryRow(ctx,
			`SELECT id, customer_id, repair_id, number, total_cents, issued_at, created_at, updated_at
			 FROM invoices WHERE id = $1 AND shop_id = $2`, id, s.shopID)
	} else {
		row = s.q.QueryRow(ctx,
			`SELECT id, customer_id, repair_id, number, total_cents, issued_at, created_at, updated_at
			 FROM invoices WHERE id = $1`, id)
	}

	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFoundWrap(err, "get invoice %s", id)
	}
	return &inv, nil
}

func (s *Store) PutInvoice(ctx context.Context, inv *workshop.Invoice) error {
	var err error
	if s.shared {
		_, err = s.q.Exec(ctx,
			`INSERT INTO invoices (id, shop_id, customer_id, repair_id, number, total_cents, issued_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE
			 SET customer_id = $3, repair_id = $4, number = $5, total_cents = $6, issued_at = $7, updated_at = $9`,
			inv.ID, s.shopID, inv.CustomerID, nullIfEmpty(inv.RepairID), inv.Number, inv.TotalCents, inv.IssuedAt, inv.CreatedAt, inv.UpdatedAt)
	} else {
		_, err = s.q.Exec(ctx,
			`INSERT INTO invoices (id, customer_id, repair_id, number, total_cents, issued_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE
			 SET customer_id = $2, repair_id = $3, number = $4, total_cents = $5, issued_at = $6, updated_at = $8`,
			inv.ID, inv.CustomerID, nullIfEmpty(inv.RepairID), inv.Number, inv.TotalCents, inv.IssuedAt, inv.CreatedAt, inv.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("put invoice %s: %w", inv.ID, err)
	}
	return nil
}

func scanInvoice(row scannable) (workshop.Invoice, error) {
	var (
		inv      workshop.Invoice
		repairID *string
	)
	if err := row.Scan(&inv.ID, &inv.CustomerID, &repairID, &inv.Number, &inv.TotalCents, &inv.IssuedAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return inv, err
	}
	if repairID != nil {
		inv.RepairID = *repairID
	}
	return inv, nil
}

// --- Settings ---

func (s *Store) GetSettings(ctx context.Context) (*workshop.Settings, error) {
	var row scannable
	if s.shared {
		row = s.q.QueryRow(ctx,
			`SELECT id, data, updated_at FROM shop_settings WHERE shop_id = $1`, s.shopID)
	} else {
		row = s.q.QueryRow(ctx, `SELECT id, data, updated_at FROM shop_settings LIMIT 1`)
	}

	var (
		set  workshop.Settings
		data []byte
	)
	if err := row.Scan(&set.ID, &data, &set.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get settings")
	}
	if err := json.Unmarshal(data, &set.Values); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &set, nil
}

func (s *Store) PutSettings(ctx context.Context, set *workshop.Settings) error {
	data, err := json.Marshal(set.Values)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if s.shared {
		_, err = s.q.Exec(ctx,
			`INSERT INTO shop_settings (id, shop_id, data, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET data = $3, updated_at = $4`,
			set.ID, s.shopID, data, set.UpdatedAt)
	} else {
		_, err = s.q.Exec(ctx,
			`INSERT INTO shop_settings (id, data, updated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET data = $2, updated_at = $3`,
			set.ID, data, set.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

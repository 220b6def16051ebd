// Package database defines the shop storage capability port (interface).
//
// The capability is implementable against either the legacy shared store or
// an isolated shop store; the router binds it to whichever resolved
// connection should serve a request, and the dual-write proxy composes two
// bound implementations during transition phases.
package database

import (
	"context"

	"github.com/fixwerk/shopshift/internal/domain/workshop"
)

// ShopStore is the port interface for business data operations, always
// scoped to a single shop.
type ShopStore interface {
	// Customers
	ListCustomers(ctx context.Context) ([]workshop.Customer, error)
	GetCustomer(ctx context.Context, id string) (*workshop.Customer, error)
	PutCustomer(ctx context.Context, c *workshop.Customer) error
	DeleteCustomer(ctx context.Context, id string) error

	// Repairs
	ListRepairs(ctx context.Context, customerID string) ([]workshop.Repair, error)
	GetRepair(ctx context.Context, id string) (*workshop.Repair, error)
	PutRepair(ctx context.Context, r *workshop.Repair) error
	DeleteRepair(ctx context.Context, id string) error

	// Invoices
	ListInvoices(ctx context.Context, customerID string) ([]workshop.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*workshop.Invoice, error)
	PutInvoice(ctx context.Context, inv *workshop.Invoice) error

	// Settings
	GetSettings(ctx context.Context) (*workshop.Settings, error)
	PutSettings(ctx context.Context, s *workshop.Settings) error
}

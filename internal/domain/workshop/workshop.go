// Package workshop defines the business entities carried by the shop
// storage capability. The schema itself is owned by the application; the
// migration core only needs stable identities and timestamps to copy,
// compare, and dual-write rows.
package workshop

import "time"

// Customer is a workshop customer.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RepairStatus represents the lifecycle state of a repair order.
type RepairStatus string

const (
	RepairOpen      RepairStatus = "open"
	RepairInProcess RepairStatus = "in_process"
	RepairDone      RepairStatus = "done"
	RepairDelivered RepairStatus = "delivered"
)

// Repair is a repair order for a customer's device.
type Repair struct {
	ID         string       `json:"id"`
	CustomerID string       `json:"customer_id"`
	Device     string       `json:"device"`
	Issue      string       `json:"issue"`
	Status     RepairStatus `json:"status"`
	PriceCents int64        `json:"price_cents"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Invoice is a billing document for one or more repairs.
type Invoice struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	RepairID   string    `json:"repair_id,omitempty"`
	Number     string    `json:"number"`
	TotalCents int64     `json:"total_cents"`
	IssuedAt   time.Time `json:"issued_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Settings holds per-shop application settings as an opaque key/value map.
type Settings struct {
	ID        string            `json:"id"`
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updated_at"`
}

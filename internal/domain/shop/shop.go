// Package shop defines the shop (tenant) domain model.
package shop

import "time"

// Shop represents a single customer workshop whose data is isolated from others.
type Shop struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest holds the fields required to register a new shop.
// New shops start on the legacy shared store until migrated.
type CreateRequest struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

package shop

import "time"

// Group represents a set of shops managed by one admin account.
// Chains of workshops share an owner who administers all member shops.
type Group struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerEmail string    `json:"owner_email"`
	ShopIDs    []string  `json:"shop_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateGroupRequest holds the fields required to create a shop group.
type CreateGroupRequest struct {
	Name       string `json:"name"`
	OwnerEmail string `json:"owner_email"`
}

// AddMemberRequest adds an existing shop to a group.
type AddMemberRequest struct {
	ShopID string `json:"shop_id"`
}

package router

import (
	"context"

	"github.com/fixwerk/shopshift/internal/adapter/postgres"
	"github.com/fixwerk/shopshift/internal/port/database"
	"github.com/fixwerk/shopshift/internal/registry"
)

// RegistrySource implements StoreSource on the connection registry. A
// legacy lease is wrapped in a shop-discriminated store, a tenant lease in
// an isolated one.
type RegistrySource struct {
	reg *registry.Registry
}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource(reg *registry.Registry) *RegistrySource {
	return &RegistrySource{reg: reg}
}

func (s *RegistrySource) Open(ctx context.Context, shopID string, role registry.Role) (database.ShopStore, func(), error) {
	h, err := s.reg.Acquire(ctx, shopID, role)
	if err != nil {
		return nil, nil, err
	}
	if role == registry.RoleLegacy {
		return postgres.NewSharedStore(h.Pool(), shopID), h.Release, nil
	}
	return postgres.NewIsolatedStore(h.Pool()), h.Release, nil
}

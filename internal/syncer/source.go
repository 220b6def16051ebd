package syncer

import (
	"context"

	"github.com/fixwerk/shopshift/internal/registry"
)

// RegistrySource implements Source on the connection registry.
type RegistrySource struct {
	reg *registry.Registry
}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource(reg *registry.Registry) *RegistrySource {
	return &RegistrySource{reg: reg}
}

func (s *RegistrySource) Legacy(ctx context.Context, shopID string) (TableReader, func(), error) {
	h, err := s.reg.Acquire(ctx, shopID, registry.RoleLegacy)
	if err != nil {
		return nil, nil, err
	}
	return NewSharedTable(h.Pool(), shopID), h.Release, nil
}

func (s *RegistrySource) Tenant(ctx context.Context, shopID string) (TableWriter, func(), error) {
	h, err := s.reg.Acquire(ctx, shopID, registry.RoleTenant)
	if err != nil {
		return nil, nil, err
	}
	return NewIsolatedTable(h.Pool()), h.Release, nil
}

// Package statestore defines the control-plane persistence port: shop
// registry, per-shop migration records, backfill cursors, the divergence
// queue, and validation report history. Everything behind this interface
// must survive process restarts; the coordinator rebuilds its in-memory
// worker state from it on startup.
package statestore

import (
	"context"

	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/domain/shop"
)

// Store is the port interface for control-plane state.
type Store interface {
	// Shops
	CreateShop(ctx context.Context, req shop.CreateRequest) (*shop.Shop, error)
	GetShop(ctx context.Context, id string) (*shop.Shop, error)
	GetShopBySubdomain(ctx context.Context, subdomain string) (*shop.Shop, error)
	ListShops(ctx context.Context) ([]shop.Shop, error)

	// Shop groups
	CreateGroup(ctx context.Context, req shop.CreateGroupRequest) (*shop.Group, error)
	GetGroup(ctx context.Context, id string) (*shop.Group, error)
	ListGroups(ctx context.Context) ([]shop.Group, error)
	AddGroupMember(ctx context.Context, groupID, shopID string) error

	// Migration records. UpdatePhase performs a guarded compare-and-set on
	// the phase column and returns domain.ErrConflict when the stored phase
	// no longer matches from; this is what makes per-shop transitions
	// serializable across processes.
	CreateMigration(ctx context.Context, shopID string) (*migration.Record, error)
	GetMigration(ctx context.Context, shopID string) (*migration.Record, error)
	ListMigrations(ctx context.Context) ([]migration.Record, error)
	UpdatePhase(ctx context.Context, shopID string, from, to migration.Phase, failedFrom migration.Phase) error
	SetTenantDSN(ctx context.Context, shopID, dsn string) error
	SetReadPath(ctx context.Context, shopID string, path migration.ReadPath) error
	SetCutoverAt(ctx context.Context, shopID string, set bool) error
	SetPaused(ctx context.Context, shopID string, paused bool) error
	SetLastError(ctx context.Context, shopID, msg string) error
	SetCleanValidations(ctx context.Context, shopID string, n int) error

	// Backfill cursors
	GetCursor(ctx context.Context, shopID, table string) (*migration.SyncCursor, error)
	SaveCursor(ctx context.Context, cur *migration.SyncCursor) error

	// Divergence queue
	EnqueueDivergence(ctx context.Context, rec *migration.DivergenceRecord) error
	DequeueDivergence(ctx context.Context, shopID string, limit int) ([]migration.DivergenceRecord, error)
	ResolveDivergence(ctx context.Context, id string) error
	RequeueDivergence(ctx context.Context, id string) error
	CountDivergence(ctx context.Context, shopID string) (int, error)

	// Validation reports
	SaveReport(ctx context.Context, rep *migration.Report) error
	ListReports(ctx context.Context, shopID string, limit int) ([]migration.Report, error)
}

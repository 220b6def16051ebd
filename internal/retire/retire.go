// Package retire removes a shop's rows from the legacy shared store once
// the isolated store has been authoritative through the stability window.
// The purge is a single transaction: either every row of the shop leaves
// legacy or none do.
package retire

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fixwerk/shopshift/internal/adapter/otel"
	"github.com/fixwerk/shopshift/internal/registry"
	"github.com/fixwerk/shopshift/internal/schema"
)

// Tx is the transaction slice the retirer needs; pgx.Tx satisfies it.
type Tx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Source begins a transaction on the legacy store.
type Source interface {
	BeginLegacy(ctx context.Context, shopID string) (Tx, func(), error)
}

// Retirer purges retired shops from the legacy store.
type Retirer struct {
	src Source
	log *slog.Logger
}

// New creates a Retirer.
func New(src Source, log *slog.Logger) *Retirer {
	return &Retirer{src: src, log: log.With("component", "retire")}
}

// Retire deletes every legacy row belonging to the shop and returns the
// number of rows removed. Children are deleted before parents so the
// purge never trips a foreign key. Retiring an already-retired shop
// deletes zero rows and succeeds.
func (r *Retirer) Retire(ctx context.Context, shopID string) (int64, error) {
	ctx, span := otel.StartRetireSpan(ctx, shopID)
	defer span.End()

	tx, release, err := r.src.BeginLegacy(ctx, shopID)
	if err != nil {
		return 0, fmt.Errorf("retire shop %s: %w", shopID, err)
	}
	defer release()
	defer func() { _ = tx.Rollback(ctx) }()

	tables := schema.Tables()
	slices.Reverse(tables)

	var total int64
	for _, t := range tables {
		sql := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.Name, t.ShopColumn)
		tag, err := tx.Exec(ctx, sql, shopID)
		if err != nil {
			return 0, fmt.Errorf("retire shop %s: purge %s: %w", shopID, t.Name, err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("retire shop %s: commit: %w", shopID, err)
	}

	r.log.Info("legacy rows retired", "shop_id", shopID, "rows", total)
	return total, nil
}

// RegistrySource implements Source on the connection registry.
type RegistrySource struct {
	reg *registry.Registry
}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource(reg *registry.Registry) *RegistrySource {
	return &RegistrySource{reg: reg}
}

func (s *RegistrySource) BeginLegacy(ctx context.Context, shopID string) (Tx, func(), error) {
	h, err := s.reg.Acquire(ctx, shopID, registry.RoleLegacy)
	if err != nil {
		return nil, nil, err
	}
	tx, err := h.Pool().Begin(ctx)
	if err != nil {
		h.Release()
		return nil, nil, fmt.Errorf("begin legacy tx: %w", err)
	}
	return tx, h.Release, nil
}

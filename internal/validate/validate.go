// Package validate compares a shop's legacy rows against its isolated
// store. Row counts and checksums are computed store-side so validation
// never streams table contents through the coordinator.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fixwerk/shopshift/internal/adapter/otel"
	"github.com/fixwerk/shopshift/internal/adapter/postgres"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/registry"
	"github.com/fixwerk/shopshift/internal/schema"
)

// Checker computes per-table stats on one store.
type Checker interface {
	// TableStats returns the row count and an order-independent content
	// checksum for one table. Two stores holding identical rows produce
	// identical checksums.
	TableStats(ctx context.Context, t schema.Table) (rows int64, checksum string, err error)
}

// Source opens checkers against a shop's stores.
type Source interface {
	Legacy(ctx context.Context, shopID string) (Checker, func(), error)
	Tenant(ctx context.Context, shopID string) (Checker, func(), error)
}

// Validator produces validation reports.
type Validator struct {
	src Source
	log *slog.Logger
}

// New creates a Validator.
func New(src Source, log *slog.Logger) *Validator {
	return &Validator{src: src, log: log.With("component", "validate")}
}

// Validate compares every workshop table for one shop and returns the
// report. It does not persist anything; the coordinator owns the record.
func (v *Validator) Validate(ctx context.Context, shopID string) (*migration.Report, error) {
	ctx, span := otel.StartValidationSpan(ctx, shopID)
	defer span.End()

	legacy, releaseLegacy, err := v.src.Legacy(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("validate shop %s: %w", shopID, err)
	}
	defer releaseLegacy()
	tenant, releaseTenant, err := v.src.Tenant(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("validate shop %s: %w", shopID, err)
	}
	defer releaseTenant()

	rep := &migration.Report{ShopID: shopID, GeneratedAt: time.Now().UTC()}
	for _, t := range schema.Tables() {
		lRows, lSum, err := legacy.TableStats(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("validate %s for shop %s: %w", t.Name, shopID, err)
		}
		tRows, tSum, err := tenant.TableStats(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("validate %s for shop %s: %w", t.Name, shopID, err)
		}

		res := migration.TableResult{
			Table:            t.Name,
			LegacyRows:       lRows,
			TenantRows:       tRows,
			ChecksumMismatch: lSum != tSum,
		}
		rep.Tables = append(rep.Tables, res)
		if res.RowCountDelta() != 0 || res.ChecksumMismatch {
			v.log.Warn("table mismatch", "shop_id", shopID, "table", t.Name,
				"legacy_rows", lRows, "tenant_rows", tRows, "checksum_mismatch", res.ChecksumMismatch)
		}
	}
	return rep, nil
}

// pgChecker implements Checker on a pgx querier.
type pgChecker struct {
	q      postgres.Querier
	shopID string
	shared bool
}

// NewSharedChecker wraps the legacy shared store for one shop.
func NewSharedChecker(q postgres.Querier, shopID string) Checker {
	return &pgChecker{q: q, shopID: shopID, shared: true}
}

// NewIsolatedChecker wraps an isolated shop store.
func NewIsolatedChecker(q postgres.Querier) Checker {
	return &pgChecker{q: q}
}

// checksumExpr builds the aggregated table digest expression. Each row
// hashes its shared columns; the per-row hashes aggregate in key order.
// Only columns both shapes carry participate, so the legacy shop
// discriminator never skews the result. Timestamp columns hash as epoch
// seconds; their text form follows the session's TimeZone and DateStyle,
// which the two clusters need not share.
func checksumExpr(t schema.Table) string {
	cols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		if t.IsTimestamp(col) {
			cols[i] = fmt.Sprintf("extract(epoch from %s)::text", col)
		} else {
			cols[i] = col
		}
	}
	rowHash := fmt.Sprintf("md5(concat_ws('|', %s))", strings.Join(cols, ", "))
	return fmt.Sprintf("coalesce(md5(string_agg(%s, '' ORDER BY %s)), '')", rowHash, t.Key)
}

func (c *pgChecker) TableStats(ctx context.Context, t schema.Table) (int64, string, error) {
	agg := checksumExpr(t)

	var (
		sql  string
		args []any
	)
	if c.shared {
		sql = fmt.Sprintf(`SELECT count(*), %s FROM %s WHERE %s = $1`, agg, t.Name, t.ShopColumn)
		args = []any{c.shopID}
	} else {
		sql = fmt.Sprintf(`SELECT count(*), %s FROM %s`, agg, t.Name)
	}

	var (
		rows int64
		sum  string
	)
	if err := c.q.QueryRow(ctx, sql, args...).Scan(&rows, &sum); err != nil {
		return 0, "", fmt.Errorf("table stats %s: %w", t.Name, err)
	}
	return rows, sum, nil
}

// RegistrySource implements Source on the connection registry.
type RegistrySource struct {
	reg *registry.Registry
}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource(reg *registry.Registry) *RegistrySource {
	return &RegistrySource{reg: reg}
}

func (s *RegistrySource) Legacy(ctx context.Context, shopID string) (Checker, func(), error) {
	h, err := s.reg.Acquire(ctx, shopID, registry.RoleLegacy)
	if err != nil {
		return nil, nil, err
	}
	return NewSharedChecker(h.Pool(), shopID), h.Release, nil
}

func (s *RegistrySource) Tenant(ctx context.Context, shopID string) (Checker, func(), error) {
	h, err := s.reg.Acquire(ctx, shopID, registry.RoleTenant)
	if err != nil {
		return nil, nil, err
	}
	return NewIsolatedChecker(h.Pool()), h.Release, nil
}

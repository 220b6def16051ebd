package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fixwerk/shopshift/internal/adapter/postgres"
	"github.com/fixwerk/shopshift/internal/schema"
)

// TableReader reads raw rows from one store in descriptor column order.
type TableReader interface {
	// ReadBatch returns up to limit rows whose key sorts strictly after
	// afterKey, in key order. An empty afterKey starts from the beginning.
	ReadBatch(ctx context.Context, t schema.Table, afterKey string, limit int) ([][]any, error)
	// ReadRow returns one row by key, or nil when the row does not exist.
	ReadRow(ctx context.Context, t schema.Table, key string) ([]any, error)
}

// TableWriter applies raw rows to one store.
type TableWriter interface {
	// WriteRow upserts one row given in descriptor column order.
	WriteRow(ctx context.Context, t schema.Table, row []any) error
	// DeleteRow removes one row by key; missing rows are not an error.
	DeleteRow(ctx context.Context, t schema.Table, key string) error
}

// pgTable implements TableReader and TableWriter on a pgx querier. In
// shared mode statements carry the shop discriminator.
type pgTable struct {
	q      postgres.Querier
	shopID string
	shared bool
}

// NewSharedTable wraps the legacy shared store for one shop.
func NewSharedTable(q postgres.Querier, shopID string) *pgTable {
	return &pgTable{q: q, shopID: shopID, shared: true}
}

// NewIsolatedTable wraps an isolated shop store.
func NewIsolatedTable(q postgres.Querier) *pgTable {
	return &pgTable{q: q}
}

func (p *pgTable) ReadBatch(ctx context.Context, t schema.Table, afterKey string, limit int) ([][]any, error) {
	var (
		sql  string
		args []any
	)
	cols := strings.Join(t.Columns, ", ")
	if p.shared {
		sql = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s > $2 ORDER BY %s LIMIT $3`,
			cols, t.Name, t.ShopColumn, t.Key, t.Key)
		args = []any{p.shopID, afterKey, limit}
	} else {
		sql = fmt.Sprintf(`SELECT %s FROM %s WHERE %s > $1 ORDER BY %s LIMIT $2`,
			cols, t.Name, t.Key, t.Key)
		args = []any{afterKey, limit}
	}

	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read batch %s: %w", t.Name, err)
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (p *pgTable) ReadRow(ctx context.Context, t schema.Table, key string) ([]any, error) {
	var (
		sql  string
		args []any
	)
	cols := strings.Join(t.Columns, ", ")
	if p.shared {
		sql = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s = $2`, cols, t.Name, t.ShopColumn, t.Key)
		args = []any{p.shopID, key}
	} else {
		sql = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, cols, t.Name, t.Key)
		args = []any{key}
	}

	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("read row %s/%s: %w", t.Name, key, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read row %s/%s: %w", t.Name, key, err)
		}
		return nil, nil
	}
	vals, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("read row %s/%s: %w", t.Name, key, err)
	}
	return vals, nil
}

func (p *pgTable) WriteRow(ctx context.Context, t schema.Table, row []any) error {
	cols := t.Columns
	args := row
	if p.shared {
		cols = append([]string{t.ShopColumn}, cols...)
		args = append([]any{p.shopID}, args...)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	var sets []string
	for i, c := range cols {
		if c == t.Key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		t.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), t.Key, strings.Join(sets, ", "))

	if _, err := p.q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("write row %s: %w", t.Name, err)
	}
	return nil
}

func (p *pgTable) DeleteRow(ctx context.Context, t schema.Table, key string) error {
	var (
		sql  string
		args []any
	)
	if p.shared {
		sql = fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`, t.Name, t.ShopColumn, t.Key)
		args = []any{p.shopID, key}
	} else {
		sql = fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.Name, t.Key)
		args = []any{key}
	}

	if _, err := p.q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete row %s/%s: %w", t.Name, key, err)
	}
	return nil
}

// Package schema applies versioned schema steps to physical stores using
// goose. Each target store carries its own applied-steps ledger (goose's
// version table), so applying is idempotent and a failure mid-sequence
// resumes from the first unapplied step on the next invocation.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/pressly/goose/v3"

	"github.com/fixwerk/shopshift/internal/domain"
)

//go:embed migrations/workshop/*.sql
var workshopFS embed.FS

//go:embed migrations/legacy/*.sql
var legacyFS embed.FS

// AppliedSet describes the outcome of one Apply call.
type AppliedSet struct {
	// Applied holds the versions applied by this call, in order.
	Applied []int64
	// Version is the store's ledger version after the call.
	Version int64
}

// ApplyWorkshop applies all pending workshop schema steps to the store at
// dsn. Used when provisioning an isolated shop store and safe to re-run.
func ApplyWorkshop(ctx context.Context, dsn string) (*AppliedSet, error) {
	return apply(ctx, dsn, workshopFS, "migrations/workshop")
}

// ApplyLegacy applies the legacy shared-schema steps to the store at dsn.
// Only used to bootstrap development and test environments; in production
// the legacy store already exists.
func ApplyLegacy(ctx context.Context, dsn string) error {
	_, err := apply(ctx, dsn, legacyFS, "migrations/legacy")
	return err
}

// WorkshopVersion returns the workshop ledger version of the store at dsn.
func WorkshopVersion(ctx context.Context, dsn string) (int64, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("%w: open target: %w", domain.ErrSchemaApply, err)
	}
	defer func() { _ = db.Close() }()

	p, err := provider(db, workshopFS, "migrations/workshop")
	if err != nil {
		return 0, err
	}
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger version: %w", err)
	}
	return v, nil
}

func apply(ctx context.Context, dsn string, fsys embed.FS, dir string) (*AppliedSet, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open target: %w", domain.ErrSchemaApply, err)
	}
	defer func() { _ = db.Close() }()

	p, err := provider(db, fsys, dir)
	if err != nil {
		return nil, err
	}

	results, err := p.Up(ctx)
	if err != nil {
		// Completed steps up to the failure are already in the ledger;
		// re-invocation continues from the first unapplied one.
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaApply, err)
	}

	set := &AppliedSet{}
	for _, res := range results {
		set.Applied = append(set.Applied, res.Source.Version)
	}
	if set.Version, err = p.GetDBVersion(ctx); err != nil {
		return nil, fmt.Errorf("%w: ledger version: %w", domain.ErrSchemaApply, err)
	}
	return set, nil
}

func provider(db *sql.DB, fsys embed.FS, dir string) (*goose.Provider, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: sub fs: %w", domain.ErrSchemaApply, err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: provider: %w", domain.ErrSchemaApply, err)
	}
	return p, nil
}

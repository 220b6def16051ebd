// Package provision allocates isolated per-shop stores: it creates the
// database, applies the workshop schema, and registers the store with the
// connection registry. Every step is idempotent so the coordinator can
// retry a failed provisioning from the top.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/registry"
	"github.com/fixwerk/shopshift/internal/schema"
)

// StateWriter is the slice of the control-plane store the provisioner needs.
type StateWriter interface {
	SetTenantDSN(ctx context.Context, shopID, dsn string) error
}

// Registrar is the slice of the connection registry the provisioner needs.
type Registrar interface {
	Register(shopID string, role registry.Role, dsn string, pinned bool) error
}

// adminConn is satisfied by *pgx.Conn.
type adminConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Provisioner creates and registers isolated shop stores.
type Provisioner struct {
	cfg   config.Provision
	reg   Registrar
	state StateWriter
	log   *slog.Logger

	connect     func(ctx context.Context, dsn string) (adminConn, error)
	applySchema func(ctx context.Context, dsn string) (*schema.AppliedSet, error)
}

// New creates a Provisioner.
func New(cfg config.Provision, reg Registrar, state StateWriter, log *slog.Logger) *Provisioner {
	return &Provisioner{
		cfg:   cfg,
		reg:   reg,
		state: state,
		log:   log.With("component", "provision"),
		connect: func(ctx context.Context, dsn string) (adminConn, error) {
			return pgx.Connect(ctx, dsn)
		},
		applySchema: schema.ApplyWorkshop,
	}
}

// DatabaseName returns the database name for a shop's isolated store.
// Shop IDs are UUIDs; dashes are not valid unquoted identifier characters.
func DatabaseName(shopID string) string {
	return "shop_" + strings.ReplaceAll(shopID, "-", "_")
}

// Provision creates the shop's isolated database if it does not already
// exist, brings its schema to the current version, records the DSN on the
// migration record, and registers the store. Safe to call repeatedly.
func (p *Provisioner) Provision(ctx context.Context, shopID string) (string, error) {
	dbName := DatabaseName(shopID)
	dsn := fmt.Sprintf(p.cfg.DSNTemplate, dbName)

	if err := p.ensureDatabase(ctx, dbName); err != nil {
		return "", fmt.Errorf("%w: shop %s: %w", domain.ErrProvisioning, shopID, err)
	}

	applied, err := p.applySchema(ctx, dsn)
	if err != nil {
		return "", fmt.Errorf("%w: shop %s: %w", domain.ErrProvisioning, shopID, err)
	}
	if len(applied.Applied) > 0 {
		p.log.Info("applied workshop schema",
			"shop_id", shopID, "migrations", len(applied.Applied), "version", applied.Version)
	}

	if err := p.state.SetTenantDSN(ctx, shopID, dsn); err != nil {
		return "", fmt.Errorf("%w: shop %s: record dsn: %w", domain.ErrProvisioning, shopID, err)
	}

	if err := p.reg.Register(shopID, registry.RoleTenant, dsn, false); err != nil {
		return "", fmt.Errorf("%w: shop %s: register store: %w", domain.ErrProvisioning, shopID, err)
	}

	p.log.Info("shop store provisioned", "shop_id", shopID, "database", dbName)
	return dsn, nil
}

// ensureDatabase creates the database unless the catalog already has it.
// CREATE DATABASE cannot run inside a transaction and has no IF NOT
// EXISTS, so existence is checked first; a create race between two
// coordinators loses harmlessly on the duplicate-database error.
func (p *Provisioner) ensureDatabase(ctx context.Context, dbName string) error {
	conn, err := p.connect(ctx, p.cfg.AdminDSN)
	if err != nil {
		return fmt.Errorf("connect admin: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	var exists bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database: %w", err)
	}
	if exists {
		return nil
	}

	ident := pgx.Identifier{dbName}.Sanitize()
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

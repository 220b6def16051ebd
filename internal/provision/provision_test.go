package provision

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/registry"
	"github.com/fixwerk/shopshift/internal/schema"
)

type fakeAdmin struct {
	exists  bool
	created []string
	execErr error
}

func (f *fakeAdmin) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.created = append(f.created, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeAdmin) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return existsRow{f.exists}
}

func (f *fakeAdmin) Close(context.Context) error { return nil }

type existsRow struct{ exists bool }

func (r existsRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = r.exists
	return nil
}

type fakeState struct {
	dsn string
	err error
}

func (f *fakeState) SetTenantDSN(_ context.Context, _, dsn string) error {
	f.dsn = dsn
	return f.err
}

type fakeRegistrar struct {
	registered map[string]string
	err        error
}

func (f *fakeRegistrar) Register(shopID string, _ registry.Role, dsn string, _ bool) error {
	if f.err != nil {
		return f.err
	}
	if f.registered == nil {
		f.registered = make(map[string]string)
	}
	f.registered[shopID] = dsn
	return nil
}

func testProvisioner(admin *fakeAdmin, state *fakeState, reg *fakeRegistrar) *Provisioner {
	p := New(config.Provision{
		AdminDSN:    "postgres://admin@localhost/postgres",
		DSNTemplate: "postgres://app@localhost/%s",
	}, reg, state, slog.New(slog.DiscardHandler))
	p.connect = func(context.Context, string) (adminConn, error) { return admin, nil }
	p.applySchema = func(context.Context, string) (*schema.AppliedSet, error) {
		return &schema.AppliedSet{}, nil
	}
	return p
}

func TestDatabaseName(t *testing.T) {
	got := DatabaseName("3f2c1a90-1111-2222-3333-444455556666")
	want := "shop_3f2c1a90_1111_2222_3333_444455556666"
	if got != want {
		t.Fatalf("DatabaseName = %q, want %q", got, want)
	}
}

func TestProvisionCreatesAndRegisters(t *testing.T) {
	admin := &fakeAdmin{}
	state := &fakeState{}
	reg := &fakeRegistrar{}
	p := testProvisioner(admin, state, reg)

	dsn, err := p.Provision(context.Background(), "shop-1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	want := "postgres://app@localhost/shop_shop_1"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
	if len(admin.created) != 1 {
		t.Fatalf("expected one CREATE DATABASE, got %v", admin.created)
	}
	if state.dsn != want {
		t.Fatalf("state dsn = %q, want %q", state.dsn, want)
	}
	if reg.registered["shop-1"] != want {
		t.Fatalf("registered dsn = %q, want %q", reg.registered["shop-1"], want)
	}
}

func TestProvisionSkipsExistingDatabase(t *testing.T) {
	admin := &fakeAdmin{exists: true}
	p := testProvisioner(admin, &fakeState{}, &fakeRegistrar{})

	if _, err := p.Provision(context.Background(), "shop-1"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(admin.created) != 0 {
		t.Fatalf("expected no CREATE DATABASE, got %v", admin.created)
	}
}

func TestProvisionWrapsFailures(t *testing.T) {
	admin := &fakeAdmin{execErr: errors.New("disk full")}
	p := testProvisioner(admin, &fakeState{}, &fakeRegistrar{})

	_, err := p.Provision(context.Background(), "shop-1")
	if !errors.Is(err, domain.ErrProvisioning) {
		t.Fatalf("expected ErrProvisioning, got %v", err)
	}
}

func TestProvisionLosingCreateRaceIsFine(t *testing.T) {
	admin := &fakeAdmin{execErr: errors.New(`database "shop_shop_1" already exists`)}
	p := testProvisioner(admin, &fakeState{}, &fakeRegistrar{})

	if _, err := p.Provision(context.Background(), "shop-1"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
}

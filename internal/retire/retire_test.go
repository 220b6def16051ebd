package retire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fixwerk/shopshift/internal/schema"
)

type fakeTx struct {
	deletes    []string // table names, in execution order
	rowsPer    int64
	failOn     string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	table := strings.Fields(sql)[2] // DELETE FROM <table> ...
	if table == f.failOn {
		return pgconn.CommandTag{}, errors.New("deadlock detected")
	}
	f.deletes = append(f.deletes, table)
	return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", f.rowsPer)), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeSource struct {
	tx       *fakeTx
	released bool
}

func (f *fakeSource) BeginLegacy(context.Context, string) (Tx, func(), error) {
	return f.tx, func() { f.released = true }, nil
}

func TestRetireDeletesChildrenFirst(t *testing.T) {
	src := &fakeSource{tx: &fakeTx{rowsPer: 3}}
	r := New(src, slog.New(slog.DiscardHandler))

	total, err := r.Retire(context.Background(), "shop-1")
	if err != nil {
		t.Fatalf("Retire: %v", err)
	}

	tables := schema.Tables()
	if len(src.tx.deletes) != len(tables) {
		t.Fatalf("deleted from %d tables, want %d", len(src.tx.deletes), len(tables))
	}
	for i, tb := range tables {
		got := src.tx.deletes[len(src.tx.deletes)-1-i]
		if got != tb.Name {
			t.Fatalf("delete order %v is not the reverse of backfill order", src.tx.deletes)
		}
	}
	if total != int64(3*len(tables)) {
		t.Fatalf("total = %d, want %d", total, 3*len(tables))
	}
	if !src.tx.committed {
		t.Fatal("transaction not committed")
	}
	if !src.released {
		t.Fatal("lease not released")
	}
}

func TestRetireRollsBackOnFailure(t *testing.T) {
	src := &fakeSource{tx: &fakeTx{rowsPer: 1, failOn: schema.TableCustomers}}
	r := New(src, slog.New(slog.DiscardHandler))

	if _, err := r.Retire(context.Background(), "shop-1"); err == nil {
		t.Fatal("expected error")
	}
	if src.tx.committed {
		t.Fatal("failed purge must not commit")
	}
	if !src.tx.rolledBack {
		t.Fatal("failed purge must roll back")
	}
}

func TestRetireTwiceIsANoOp(t *testing.T) {
	src := &fakeSource{tx: &fakeTx{rowsPer: 0}}
	r := New(src, slog.New(slog.DiscardHandler))

	total, err := r.Retire(context.Background(), "shop-1")
	if err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}

package schema

import "testing"

func TestTablesOrderParentsFirst(t *testing.T) {
	tables := Tables()
	pos := make(map[string]int, len(tables))
	for i, tbl := range tables {
		pos[tbl.Name] = i
	}

	if pos["customers"] > pos["repairs"] {
		t.Fatal("customers must be backfilled before repairs")
	}
	if pos["repairs"] > pos["invoices"] {
		t.Fatal("repairs must be backfilled before invoices")
	}
}

func TestTableByName(t *testing.T) {
	tbl, ok := TableByName("customers")
	if !ok {
		t.Fatal("customers not found")
	}
	if tbl.Key != "id" || tbl.ShopColumn != "shop_id" {
		t.Fatalf("unexpected descriptor: %+v", tbl)
	}

	if _, ok := TableByName("nope"); ok {
		t.Fatal("unknown table should not resolve")
	}
}

func TestTableColumnsIncludeKeyAndUpdatedAt(t *testing.T) {
	for _, tbl := range Tables() {
		has := func(col string) bool {
			for _, c := range tbl.Columns {
				if c == col {
					return true
				}
			}
			return false
		}
		if !has(tbl.Key) {
			t.Errorf("table %s: key column %s missing from Columns", tbl.Name, tbl.Key)
		}
		if !has(tbl.UpdatedAt) {
			t.Errorf("table %s: updated_at column %s missing from Columns", tbl.Name, tbl.UpdatedAt)
		}
	}
}

package schema

// Table describes one workshop table for backfill and validation: which
// column identifies rows, which columns exist in both the legacy and the
// isolated shape, and which column discriminates shops on the legacy side.
type Table struct {
	Name string
	// Key is the primary key column; backfill orders and cursors by it.
	Key string
	// Columns are the data columns shared by both stores, excluding the
	// legacy-only shop discriminator. Order matters for checksums.
	Columns []string
	// ShopColumn discriminates rows on the legacy shared store.
	ShopColumn string
	// UpdatedAt is the monotonic change column, used by cursors.
	UpdatedAt string
	// Timestamps lists the timestamptz columns. Checksums hash their
	// epoch seconds; the text rendering follows per-session TimeZone and
	// DateStyle settings and differs between clusters.
	Timestamps []string
}

// IsTimestamp reports whether col is one of the table's timestamptz
// columns.
func (t Table) IsTimestamp(col string) bool {
	for _, ts := range t.Timestamps {
		if ts == col {
			return true
		}
	}
	return false
}

// Workshop table names.
const (
	TableCustomers = "customers"
	TableRepairs   = "repairs"
	TableInvoices  = "invoices"
	TableSettings  = "shop_settings"
)

// Tables returns the workshop tables in backfill order. Parents come
// before children so replayed rows never reference missing parents.
func Tables() []Table {
	return []Table{
		{
			Name:       TableCustomers,
			Key:        "id",
			Columns:    []string{"id", "name", "email", "phone", "created_at", "updated_at"},
			ShopColumn: "shop_id",
			UpdatedAt:  "updated_at",
			Timestamps: []string{"created_at", "updated_at"},
		},
		{
			Name:       TableRepairs,
			Key:        "id",
			Columns:    []string{"id", "customer_id", "device", "issue", "status", "price_cents", "created_at", "updated_at"},
			ShopColumn: "shop_id",
			UpdatedAt:  "updated_at",
			Timestamps: []string{"created_at", "updated_at"},
		},
		{
			Name:       TableInvoices,
			Key:        "id",
			Columns:    []string{"id", "customer_id", "repair_id", "number", "total_cents", "issued_at", "created_at", "updated_at"},
			ShopColumn: "shop_id",
			UpdatedAt:  "updated_at",
			Timestamps: []string{"issued_at", "created_at", "updated_at"},
		},
		{
			Name:       TableSettings,
			Key:        "id",
			Columns:    []string{"id", "data", "updated_at"},
			ShopColumn: "shop_id",
			UpdatedAt:  "updated_at",
			Timestamps: []string{"updated_at"},
		},
	}
}

// TableByName returns the descriptor for name.
func TableByName(name string) (Table, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

package migration

import "time"

// TableResult is the validation outcome for one table.
type TableResult struct {
	Table            string `json:"table"`
	LegacyRows       int64  `json:"legacy_rows"`
	TenantRows       int64  `json:"tenant_rows"`
	ChecksumMismatch bool   `json:"checksum_mismatch"`
}

// RowCountDelta returns tenant minus legacy row count.
func (t TableResult) RowCountDelta() int64 { return t.TenantRows - t.LegacyRows }

// Report compares legacy and shop store contents for one shop.
// A clean report is a precondition for read cutover.
type Report struct {
	ShopID      string        `json:"shop_id"`
	Tables      []TableResult `json:"tables"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Clean reports whether every table matched on both row count and checksum.
func (r *Report) Clean() bool {
	for _, t := range r.Tables {
		if t.RowCountDelta() != 0 || t.ChecksumMismatch {
			return false
		}
	}
	return true
}

// MismatchCount returns the number of tables with any discrepancy.
func (r *Report) MismatchCount() int {
	n := 0
	for _, t := range r.Tables {
		if t.RowCountDelta() != 0 || t.ChecksumMismatch {
			n++
		}
	}
	return n
}

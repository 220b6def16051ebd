package migration

import "time"

// SyncCursor marks durable backfill progress for one (shop, table) pair.
// Backfill resumes strictly after LastKey; it never restarts from zero
// once progress exists.
type SyncCursor struct {
	ShopID        string    `json:"shop_id"`
	Table         string    `json:"table"`
	LastKey       string    `json:"last_key"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// DivergenceRecord marks a mutation that was applied to the legacy store
// but could not be applied to the shop store during a dual-write phase.
// Records are queued durably and replayed by the synchronizer; they are
// never silently dropped.
type DivergenceRecord struct {
	ID          string    `json:"id"`
	ShopID      string    `json:"shop_id"`
	Table       string    `json:"table"`
	Key         string    `json:"key"`
	AttemptedAt time.Time `json:"attempted_at"`
	Retries     int       `json:"retries"`
}

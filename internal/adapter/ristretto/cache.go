// Package ristretto caches migration records in-process so the router
// does not hit the control store on every request. Entries carry a short
// TTL; the router additionally invalidates on every state change it
// performs, so the TTL only bounds staleness across processes.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/fixwerk/shopshift/internal/domain/migration"
)

// recordCost approximates the in-memory size of one cached record.
const recordCost = 1024

// RecordCache is an in-process cache of per-shop migration records.
type RecordCache struct {
	c   *ristretto.Cache[string, *migration.Record]
	ttl time.Duration
}

// New creates a record cache bounded to maxCostBytes of estimated memory.
func New(maxCostBytes int64, ttl time.Duration) (*RecordCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *migration.Record]{
		NumCounters: maxCostBytes / recordCost * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RecordCache{c: c, ttl: ttl}, nil
}

// Get returns the cached record for a shop, if present.
func (rc *RecordCache) Get(shopID string) (*migration.Record, bool) {
	return rc.c.Get(shopID)
}

// Set caches a record under its shop ID.
func (rc *RecordCache) Set(rec *migration.Record) {
	rc.c.SetWithTTL(rec.ShopID, rec, recordCost, rc.ttl)
}

// Invalidate drops the cached record for a shop.
func (rc *RecordCache) Invalidate(shopID string) {
	rc.c.Del(shopID)
}

// Wait blocks until pending sets are applied. Tests use it to make
// cache contents deterministic.
func (rc *RecordCache) Wait() {
	rc.c.Wait()
}

// Close releases the cache's resources.
func (rc *RecordCache) Close() {
	rc.c.Close()
}

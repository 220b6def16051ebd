package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fixwerk/shopshift/internal/domain/migration"
)

const meterName = "shopshift"

// Metrics holds all shopshift metric instruments. It satisfies the
// recorder ports of the coordinator, the dual-write proxy, and the
// synchronizer.
type Metrics struct {
	PhaseTransitions metric.Int64Counter
	Divergence       metric.Int64Counter
	BackfillRows     metric.Int64Counter
	ValidationsClean metric.Int64Counter
	ValidationsDirty metric.Int64Counter
	PoolExhausted    metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.PhaseTransitions, err = meter.Int64Counter("shopshift.phase.transitions",
		metric.WithDescription("Number of migration phase transitions"))
	if err != nil {
		return nil, err
	}

	m.Divergence, err = meter.Int64Counter("shopshift.divergence.recorded",
		metric.WithDescription("Number of divergence records written"))
	if err != nil {
		return nil, err
	}

	m.BackfillRows, err = meter.Int64Counter("shopshift.backfill.rows",
		metric.WithDescription("Number of rows copied by backfill"))
	if err != nil {
		return nil, err
	}

	m.ValidationsClean, err = meter.Int64Counter("shopshift.validation.clean",
		metric.WithDescription("Number of clean validation reports"))
	if err != nil {
		return nil, err
	}

	m.ValidationsDirty, err = meter.Int64Counter("shopshift.validation.dirty",
		metric.WithDescription("Number of validation reports with mismatches"))
	if err != nil {
		return nil, err
	}

	m.PoolExhausted, err = meter.Int64Counter("shopshift.pool.exhausted",
		metric.WithDescription("Acquire attempts rejected by a full store pool"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// PhaseTransition counts one phase move for a shop.
func (m *Metrics) PhaseTransition(ctx context.Context, shopID string, from, to migration.Phase) {
	m.PhaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shop_id", shopID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// ValidationOutcome counts one validation pass for a shop.
func (m *Metrics) ValidationOutcome(ctx context.Context, shopID string, clean bool) {
	attrs := metric.WithAttributes(attribute.String("shop_id", shopID))
	if clean {
		m.ValidationsClean.Add(ctx, 1, attrs)
		return
	}
	m.ValidationsDirty.Add(ctx, 1, attrs)
}

// DivergenceRecorded counts a failed mirror write for a shop and table.
func (m *Metrics) DivergenceRecorded(ctx context.Context, shopID, table string) {
	m.Divergence.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shop_id", shopID),
		attribute.String("table", table),
	))
}

// BackfillCopied counts rows copied into a shop store.
func (m *Metrics) BackfillCopied(ctx context.Context, shopID, table string, rows int) {
	m.BackfillRows.Add(ctx, int64(rows), metric.WithAttributes(
		attribute.String("shop_id", shopID),
		attribute.String("table", table),
	))
}

// PoolExhaustedHit counts a rejected store acquire.
func (m *Metrics) PoolExhaustedHit(ctx context.Context, shopID string) {
	m.PoolExhausted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shop_id", shopID),
	))
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "shopshift"

// StartBackfillSpan starts a span for one table's backfill.
func StartBackfillSpan(ctx context.Context, shopID, table string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "backfill",
		trace.WithAttributes(
			attribute.String("shop.id", shopID),
			attribute.String("table", table),
		),
	)
}

// StartValidationSpan starts a span for a store comparison pass.
func StartValidationSpan(ctx context.Context, shopID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "validation",
		trace.WithAttributes(
			attribute.String("shop.id", shopID),
		),
	)
}

// StartRetireSpan starts a span for a legacy purge.
func StartRetireSpan(ctx context.Context, shopID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "retire",
		trace.WithAttributes(
			attribute.String("shop.id", shopID),
		),
	)
}

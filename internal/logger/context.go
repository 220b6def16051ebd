package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

const (
	requestIDKey contextKey = iota
	shopIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithShopID returns a new context tagged with the resolved shop.
func WithShopID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, shopIDKey, id)
}

// ShopID extracts the shop ID from the context.
// Returns an empty string outside shop-scoped requests.
func ShopID(ctx context.Context) string {
	id, _ := ctx.Value(shopIDKey).(string)
	return id
}

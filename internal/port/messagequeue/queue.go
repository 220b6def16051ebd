// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for migration events.
const (
	// SubjectPhaseChanged carries migration.phase.{shop_id} events published
	// by the coordinator on every phase transition.
	SubjectPhaseChanged = "migration.phase"

	// SubjectDivergence carries migration.divergence.{shop_id} events
	// published by the dual-write proxy when a shop-store write fails. The
	// synchronizer subscribes to drain the divergence queue promptly.
	SubjectDivergence = "migration.divergence"

	// SubjectBackfillProgress carries migration.backfill.{shop_id} progress
	// events for dashboards and automation.
	SubjectBackfillProgress = "migration.backfill"
)

// Event names for the live dashboard feed. Queue subjects carry the same
// payloads between processes; these names scope them on the websocket
// push, alongside the validation and health events that never touch the
// queue.
const (
	EventPhaseChanged  = "phase_changed"
	EventValidation    = "validation"
	EventDivergence    = "divergence"
	EventBackfill      = "backfill_progress"
	EventHealthChanged = "health_changed"
)

// PhaseChangedEvent is the payload for SubjectPhaseChanged messages.
type PhaseChangedEvent struct {
	ShopID string `json:"shop_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// DivergenceEvent is the payload for SubjectDivergence messages.
type DivergenceEvent struct {
	ShopID string `json:"shop_id"`
	Table  string `json:"table"`
	Key    string `json:"key"`
}

// BackfillProgressEvent is the payload for SubjectBackfillProgress messages.
type BackfillProgressEvent struct {
	ShopID string `json:"shop_id"`
	Table  string `json:"table"`
	Rows   int    `json:"rows"`
}

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Notify marshals a typed event and pushes it to connected clients. Event
// names are the messagequeue.Event* constants shared with the emitters.
// Every event payload carries a shop_id field, which scopes delivery for
// shop-filtered connections. Satisfies the coordinator and health monitor
// notifier ports.
func (h *Hub) Notify(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", event, "error", err)
		return
	}

	var scope struct {
		ShopID string `json:"shop_id"`
	}
	_ = json.Unmarshal(data, &scope)

	h.Broadcast(context.Background(), scope.ShopID, Message{
		Type:    event,
		Payload: json.RawMessage(data),
	})
}

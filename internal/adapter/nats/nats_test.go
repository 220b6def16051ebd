package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fixwerk/shopshift/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueSubject returns a test subject under the migration prefix, which
// the SHOPSHIFT stream captures (migration.>).
func uniqueSubject(t *testing.T) string {
	t.Helper()
	return messagequeue.SubjectPhaseChanged + ".test-" + t.Name()
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)

	want := messagequeue.PhaseChangedEvent{ShopID: "shop-1", From: "backfilling", To: "validating"}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var mu sync.Mutex
	var got messagequeue.PhaseChangedEvent
	received := make(chan struct{})

	cancel, err := q.Subscribe(context.Background(), subject, func(_ string, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(data, &got); err != nil {
			return err
		}
		close(received)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := q.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if got != want {
		t.Fatalf("received %+v, want %+v", got, want)
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Fatal("expected connected queue")
	}
}

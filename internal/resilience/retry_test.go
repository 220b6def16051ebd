package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Base: time.Millisecond, Cap: 5 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: time.Millisecond}
	errBoom := errors.New("boom")

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	p := RetryPolicy{Attempts: 100, Base: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls >= 100 {
		t.Fatal("retry should have stopped early")
	}
}

func TestJitterBounds(t *testing.T) {
	for range 100 {
		d := jitter(100 * time.Millisecond)
		if d < 50*time.Millisecond || d >= 100*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", d)
		}
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Base: time.Millisecond}

	calls := 0
	sentinel := errors.New("do not retry")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
}

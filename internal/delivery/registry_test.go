package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/skyq/internal/types"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotKey types.OriginKey
	var gotMsg string
	reg.Register("telegram", func(key types.OriginKey, message string) error {
		gotKey = key
		gotMsg = message
		return nil
	})

	if err := reg.Deliver("telegram:123", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "telegram:123" {
		t.Errorf("expected key %q, got %q", "telegram:123", gotKey)
	}
	if gotMsg != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("telegram", func(types.OriginKey, string) error { calls++; return nil })

	err := reg.Deliver("telegramx:123", "hello")
	var nh *NoHandlerError
	if !errors.As(err, &nh) || nh.Key != "telegramx:123" {
		t.Fatalf("expected NoHandlerError, got %v", err)
	}
	if calls != 0 {
		t.Error("source must match exactly")
	}
}

func TestRegistryMultipleSources(t *testing.T) {
	reg := NewRegistry()

	var telegramCalls, schedulerCalls int
	reg.Register("telegram", func(types.OriginKey, string) error {
		telegramCalls++
		return nil
	})
	reg.Register("scheduler", func(types.OriginKey, string) error {
		schedulerCalls++
		return nil
	})

	if err := reg.Deliver("telegram:42", "msg1"); err != nil {
		t.Fatalf("telegram deliver error: %v", err)
	}
	if err := reg.Deliver("scheduler:morning", "msg2"); err != nil {
		t.Fatalf("scheduler deliver error: %v", err)
	}
	if telegramCalls != 1 || schedulerCalls != 1 {
		t.Errorf("expected one call each, got telegram=%d scheduler=%d", telegramCalls, schedulerCalls)
	}
}

func TestRegistryRetriesTransientFailures(t *testing.T) {
	reg := NewRegistry()
	reg.SetRetryPolicy(fastPolicy(3))

	calls := 0
	reg.Register("telegram", func(types.OriginKey, string) error {
		calls++
		if calls < 3 {
			return errors.New("Too Many Requests: retry after 1")
		}
		return nil
	})
	if err := reg.Deliver("telegram:1", "hi"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRegistryStopsOnPermanentFailure(t *testing.T) {
	reg := NewRegistry()
	reg.SetRetryPolicy(fastPolicy(5))

	calls := 0
	reg.Register("telegram", func(types.OriginKey, string) error {
		calls++
		return errors.New("Forbidden: bot was blocked by the user")
	})
	if err := reg.Deliver("telegram:1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestRegistryContextStopsRetries(t *testing.T) {
	reg := NewRegistry()
	reg.SetRetryPolicy(&RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg.SetContext(ctx)

	calls := 0
	reg.Register("telegram", func(types.OriginKey, string) error {
		calls++
		return errors.New("connection reset by peer")
	})
	if err := reg.Deliver("telegram:1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retry after the context ended, got %d calls", calls)
	}
}

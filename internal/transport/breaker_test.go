package transport

import (
	"errors"
	"testing"
)

func TestNewBreaker(t *testing.T) {
	cfg := DefaultBreakerConfig("test-breaker")
	cb := NewBreaker(cfg)

	if cb == nil {
		t.Fatal("expected non-nil circuit breaker")
	}
	if cb.Name() != "test-breaker" {
		t.Errorf("expected name=test-breaker, got %s", cb.Name())
	}
}

func TestBreakerState(t *testing.T) {
	cb := NewBreaker(DefaultBreakerConfig("state-test"))
	if got := BreakerState(cb); got != "closed" {
		t.Errorf("expected initial state=closed, got %s", got)
	}
}

func TestGuard(t *testing.T) {
	t.Run("successful call passes through", func(t *testing.T) {
		cb := NewBreaker(DefaultBreakerConfig("success-test"))

		result, err := Guard(cb, func() (interface{}, error) {
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "ok" {
			t.Errorf("expected ok, got %v", result)
		}
	})

	t.Run("failure propagates and accumulates toward trip", func(t *testing.T) {
		cfg := DefaultBreakerConfig("failure-test")
		cfg.FailureThreshold = 2
		cb := NewBreaker(cfg)

		wantErr := errors.New("boom")
		for i := 0; i < 2; i++ {
			_, err := Guard(cb, func() (interface{}, error) {
				return nil, wantErr
			})
			if !errors.Is(err, wantErr) {
				t.Fatalf("call %d: expected wrapped boom, got %v", i, err)
			}
		}

		if got := BreakerState(cb); got != "open" {
			t.Errorf("expected breaker to trip open after threshold failures, got %s", got)
		}

		_, err := Guard(cb, func() (interface{}, error) { return "ok", nil })
		if err == nil {
			t.Error("expected open-breaker error, got nil")
		}
	})
}

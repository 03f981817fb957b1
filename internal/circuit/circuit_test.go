package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_ClosedState(t *testing.T) {
	breaker := NewBreaker("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		RequestTimeout:   50 * time.Millisecond,
	})

	if breaker.State() != StateClosed {
		t.Errorf("breaker should start closed, got %s", breaker.State())
	}

	err := breaker.Call(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Errorf("successful call should not error: %v", err)
	}
	if breaker.State() != StateClosed {
		t.Errorf("breaker should remain closed after success, got %s", breaker.State())
	}
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	breaker := NewBreaker("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
		RequestTimeout:   50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		err := breaker.Call(context.Background(), func(ctx context.Context) error {
			return errors.New("upstream failure")
		})
		if err == nil {
			t.Error("failing call should return error")
		}
	}

	if breaker.State() != StateOpen {
		t.Errorf("breaker should be open after threshold failures, got %s", breaker.State())
	}

	err := breaker.Call(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("call while open should return ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_RequestTimeoutCountsAsFailure(t *testing.T) {
	breaker := NewBreaker("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		RequestTimeout:   10 * time.Millisecond,
	})

	err := breaker.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Error("timed-out call should return error")
	}
	if breaker.State() != StateOpen {
		t.Errorf("breaker should open after a timeout at threshold 1, got %s", breaker.State())
	}
}

func TestManager_UnregisteredNameCallsThrough(t *testing.T) {
	m := NewManager()
	called := false
	err := m.Call(context.Background(), "unconfigured", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("unregistered provider should call through: %v", err)
	}
	if !called {
		t.Error("fn should have run")
	}
}

func TestManager_StatsKeyedByName(t *testing.T) {
	m := NewManager()
	m.AddProvider("binance", Config{FailureThreshold: 2, Timeout: time.Minute})

	_ = m.Call(context.Background(), "binance", func(ctx context.Context) error { return nil })

	stats := m.Stats()
	s, ok := stats["binance"]
	if !ok {
		t.Fatal("expected stats entry for binance")
	}
	if s.TotalRequests != 1 || s.TotalSuccesses != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if !s.IsHealthy() {
		t.Error("breaker with only successes should be healthy")
	}
}

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2)

	if !limiter.Allow("stream.binance.com") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("stream.binance.com") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow("stream.binance.com") {
		t.Error("third request should be blocked")
	}
}

func TestLimiter_IndependentPerHost(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	if !limiter.Allow("binance.com") {
		t.Error("first request to binance should be allowed")
	}
	if !limiter.Allow("okx.com") {
		t.Error("first request to okx should be allowed")
	}
	if limiter.Allow("binance.com") {
		t.Error("second request to binance should be blocked")
	}
	if limiter.Allow("okx.com") {
		t.Error("second request to okx should be blocked")
	}
}

func TestLimiter_WaitBlocksUntilTokenAvailable(t *testing.T) {
	limiter := NewLimiter(10.0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "test.com"); err != nil {
		t.Errorf("first wait should not error: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, "test.com"); err != nil {
		t.Errorf("second wait should not error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Errorf("second wait should take ~100ms at 10rps, took %v", elapsed)
	}
}

func TestLimiter_WaitTimesOut(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	limiter.Allow("test.com")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "test.com"); err == nil {
		t.Error("wait should time out against a near-empty bucket")
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(100.0, 10)
	host := "concurrent.test"

	const goroutines, perGoroutine = 50, 5
	var allowed, blocked int64
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if limiter.Allow(host) {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed+blocked != int64(goroutines*perGoroutine) {
		t.Errorf("total requests mismatch: allowed=%d blocked=%d", allowed, blocked)
	}
	if allowed < 10 {
		t.Errorf("should allow at least the burst amount, got %d", allowed)
	}
	if blocked == 0 {
		t.Error("should block some requests under this load")
	}
}

func TestManager_UnconfiguredExchangeIsNotLimited(t *testing.T) {
	m := NewManager()
	if err := m.Wait(context.Background(), "unconfigured", "test.com"); err != nil {
		t.Errorf("unconfigured exchange should not be rate limited: %v", err)
	}
}

func TestManager_StatsKeyedByExchangeAndHost(t *testing.T) {
	m := NewManager()
	m.AddExchange("binance", 5.0, 10)
	m.AddExchange("okx", 3.0, 5)

	_ = m.Wait(context.Background(), "binance", "stream.binance.com")
	_ = m.Wait(context.Background(), "okx", "ws.okx.com")

	stats := m.Stats()
	if len(stats) != 2 {
		t.Errorf("expected stats for 2 exchanges, got %d", len(stats))
	}
	if len(stats["binance"]) == 0 {
		t.Error("expected host-level stats for binance")
	}
}

// Package ratelimit provides per-exchange, per-host token-bucket rate
// limiting for the collector's WebSocket control frames and the backfill
// engine's REST calls, so a burst against one exchange never starves
// another (§4.4, §4.6).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per host under a single rps/burst policy.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter builds a Limiter with the given requests-per-second and burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow reports whether a request to host may proceed right now.
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request to host is allowed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// SetRPS updates the requests-per-second limit for every known host.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	for _, limiter := range l.limiters {
		limiter.SetLimit(rate.Limit(rps))
	}
}

// Stats reports a point-in-time snapshot per host.
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.limiters))
	now := time.Now()
	for host, limiter := range l.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()

		stats[host] = LimiterStats{
			Host:            host,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}
	return stats
}

// LimiterStats is the JSON-friendly snapshot of one host's bucket.
type LimiterStats struct {
	Host            string        `json:"host"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled reports whether the host is currently delayed.
func (s LimiterStats) IsThrottled() bool { return s.Delay > 0 }

// Manager owns one Limiter per exchange, keyed by exchange code ("binance",
// "okx", "coinbase", "kraken").
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddExchange registers a limiter for the given exchange code.
func (m *Manager) AddExchange(exchange string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[exchange] = NewLimiter(rps, burst)
}

// GetLimiter returns the limiter registered for exchange, if any.
func (m *Manager) GetLimiter(exchange string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[exchange]
	return l, ok
}

// Wait blocks until a request to (exchange, host) is allowed. An
// unconfigured exchange is not rate limited.
func (m *Manager) Wait(ctx context.Context, exchange, host string) error {
	if l, ok := m.GetLimiter(exchange); ok {
		return l.Wait(ctx, host)
	}
	return nil
}

// Stats returns every exchange's per-host snapshot.
func (m *Manager) Stats() map[string]map[string]LimiterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]LimiterStats, len(m.limiters))
	for exchange, l := range m.limiters {
		out[exchange] = l.Stats()
	}
	return out
}

// Package circuit wraps gobreaker behind the narrower Breaker/Manager shape
// the collector and backfill layers need: per-provider isolation, a single
// Call(ctx, fn) entry point, and a Stats snapshot for the metrics endpoint.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned in place of gobreaker's own sentinel errors so
// callers only need to check one value regardless of why the breaker
// refused the call (open, or half-open and already at its probe limit).
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State mirrors gobreaker.State under names that read naturally at call
// sites and in metrics labels.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateHalfOpen
	}
}

// Config configures one breaker. FailureThreshold is consecutive failures
// before the breaker trips; SuccessThreshold is consecutive probe
// successes required to close again from half-open; Timeout is how long
// the breaker stays open before allowing a probe; RequestTimeout bounds
// each individual call.
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	RequestTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Breaker guards one dependency (one exchange's REST API, one WebSocket
// endpoint) behind gobreaker's closed/open/half-open state machine.
type Breaker struct {
	cb             *gobreaker.CircuitBreaker
	requestTimeout time.Duration
}

// NewBreaker builds a named breaker. The name surfaces in gobreaker's
// OnStateChange callback and in Stats, so provider breakers should be
// named after the provider ("binance", "okx-rest", ...).
func NewBreaker(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), requestTimeout: cfg.RequestTimeout}
}

// Call runs fn if the breaker is closed or probing; it returns
// ErrCircuitOpen without calling fn if the breaker has tripped.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.requestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.requestTimeout)
			defer cancel()
		}
		return nil, fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker's current state.
func (b *Breaker) State() State { return fromGobreakerState(b.cb.State()) }

// Stats reports a point-in-time snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	var successRate float64
	if counts.Requests > 0 {
		successRate = float64(counts.TotalSuccesses) / float64(counts.Requests)
	}
	return Stats{
		Name:                 b.cb.Name(),
		State:                b.State(),
		TotalRequests:        int64(counts.Requests),
		TotalSuccesses:       int64(counts.TotalSuccesses),
		TotalFailures:        int64(counts.TotalFailures),
		ConsecutiveFailures:  int(counts.ConsecutiveFailures),
		ConsecutiveSuccesses: int(counts.ConsecutiveSuccesses),
		SuccessRate:          successRate,
	}
}

// Stats is the JSON-friendly snapshot served by the health/metrics handlers.
type Stats struct {
	Name                 string  `json:"name"`
	State                State   `json:"state"`
	TotalRequests        int64   `json:"total_requests"`
	TotalSuccesses       int64   `json:"total_successes"`
	TotalFailures        int64   `json:"total_failures"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	SuccessRate          float64 `json:"success_rate"`
}

// IsHealthy reports whether the breaker is closed and, once it has seen
// traffic, passing most of it.
func (s Stats) IsHealthy() bool {
	return s.State == StateClosed && (s.TotalRequests == 0 || s.SuccessRate >= 0.9)
}

// Manager owns one breaker per named dependency — one per exchange
// collector, one per backfill REST client — so a failing exchange never
// throttles calls to a healthy one.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// AddProvider registers (or replaces) the breaker for name.
func (m *Manager) AddProvider(name string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[name] = NewBreaker(name, cfg)
}

// GetBreaker returns the breaker registered for name, if any.
func (m *Manager) GetBreaker(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// Call runs fn through the named breaker; an unregistered name runs fn
// directly, since an unconfigured dependency is not meant to be guarded.
func (m *Manager) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if b, ok := m.GetBreaker(name); ok {
		return b.Call(ctx, fn)
	}
	return fn(ctx)
}

// Stats returns every registered breaker's snapshot, keyed by name.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Stats()
	}
	return out
}

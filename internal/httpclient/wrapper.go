// Package httpclient wraps an http.RoundTripper with per-host rate limiting
// and circuit breaking, so the backfill engine's REST calls (§4.6) share
// the same failure handling as the collector's WebSocket connections,
// grounded on the teacher's net/client request wrapper.
package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sawpanic/cryptopulse/internal/circuit"
	"github.com/sawpanic/cryptopulse/internal/ratelimit"
)

// Wrapper composes rate limiting and circuit breaking around a transport.
// Either dependency may be nil, in which case that stage is skipped.
type Wrapper struct {
	transport http.RoundTripper
	limiter   *ratelimit.Limiter
	breaker   *circuit.Breaker
	userAgent string
}

// NewWrapper builds a Wrapper. A nil transport defaults to
// http.DefaultTransport.
func NewWrapper(limiter *ratelimit.Limiter, breaker *circuit.Breaker, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Wrapper{
		transport: transport,
		limiter:   limiter,
		breaker:   breaker,
		userAgent: "cryptopulse-backfill/1.0",
	}
}

// RoundTrip implements http.RoundTripper.
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(req.Context(), req.URL.Host); err != nil {
			return nil, fmt.Errorf("httpclient: rate limit wait: %w", err)
		}
	}

	var resp *http.Response
	exec := func(ctx context.Context) error {
		var err error
		resp, err = w.transport.RoundTrip(req.WithContext(ctx))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("httpclient: upstream status %d", resp.StatusCode)
		}
		return nil
	}

	var err error
	if w.breaker != nil {
		err = w.breaker.Call(req.Context(), exec)
	} else {
		err = exec(req.Context())
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

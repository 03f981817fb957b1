package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"time"

	"github.com/lib/pq"

	"github.com/sawpanic/cryptopulse/internal/errs"
)

// retryConfig bounds the jittered backoff §4.1 requires for transient
// database failures. Constraint violations are never retried.
type retryConfig struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

var defaultRetry = retryConfig{attempts: 4, base: 50 * time.Millisecond, max: 2 * time.Second}

// withRetry runs fn up to cfg.attempts times, sleeping a jittered backoff
// between attempts, and stops immediately on a non-retryable error.
func withRetry(ctx context.Context, op string, cfg retryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			if errors.Is(lastErr, sql.ErrNoRows) {
				return lastErr // caller decides: not every no-rows case is an error
			}
			return errs.New(errs.KindValidation, op, lastErr)
		}
		if attempt == cfg.attempts-1 {
			break
		}
		delay := backoff(cfg, attempt)
		select {
		case <-ctx.Done():
			return errs.New(errs.KindTransient, op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return errs.New(errs.KindDegraded, op, lastErr)
}

func backoff(cfg retryConfig, attempt int) time.Duration {
	d := cfg.base << attempt
	if d > cfg.max || d <= 0 {
		d = cfg.max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

// isRetryable distinguishes transient database failures (connection lost,
// deadlock, serialization failure) from constraint violations, which
// surface immediately as validation failures (§7).
func isRetryable(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return true
		case "40": // transaction rollback (serialization, deadlock)
			return true
		case "53": // insufficient resources
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Unrecognized errors (network-level, driver-level) are treated as
	// transient: the cost of an extra retry is lower than the cost of
	// surfacing a spurious validation failure for e.g. a dropped TCP
	// connection that never reached the server.
	return true
}

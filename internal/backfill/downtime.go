package backfill

import (
	"context"
	"time"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// HotCache is a last-seen-timestamp cache consulted before falling back to
// Postgres, so staleness checks across hundreds of series don't each
// round-trip the database. Implemented by internal/rediscache.
type HotCache interface {
	Get(ctx context.Context, kind storage.Kind, key int64) (time.Time, bool, error)
	Set(ctx context.Context, kind storage.Kind, key int64, t time.Time) error
}

// Gap is a detected downtime window for one key: the most recent row is
// older than the staleness threshold.
type Gap struct {
	Kind     storage.Kind
	Key      int64
	LastSeen time.Time
	Age      time.Duration
}

// DowntimeDetector finds series/markets whose most recent row is stale
// enough to indicate a collector outage, so the operator (or an automated
// sync_config/backfill job) can target a targeted re-backfill.
type DowntimeDetector struct {
	gateway   storage.Gateway
	cache     HotCache // optional; nil falls back to gateway on every check
	threshold time.Duration
}

// NewDowntimeDetector builds a detector. threshold is the staleness bound
// (e.g. 5 minutes for a 1-minute candle series); cache may be nil.
func NewDowntimeDetector(gateway storage.Gateway, cache HotCache, threshold time.Duration) *DowntimeDetector {
	return &DowntimeDetector{gateway: gateway, cache: cache, threshold: threshold}
}

// Check reports a Gap for key if its most recently stored row is older
// than the detector's threshold, or if no row exists at all.
func (d *DowntimeDetector) Check(ctx context.Context, kind storage.Kind, key int64) (Gap, bool, error) {
	now := time.Now().UTC()

	if d.cache != nil {
		if t, ok, err := d.cache.Get(ctx, kind, key); err == nil && ok {
			age := now.Sub(t)
			if age > d.threshold {
				return Gap{Kind: kind, Key: key, LastSeen: t, Age: age}, true, nil
			}
			return Gap{}, false, nil
		}
	}

	t, ok, err := d.gateway.LatestRowTime(ctx, kind, key)
	if err != nil {
		return Gap{}, false, err
	}
	if !ok {
		return Gap{Kind: kind, Key: key, Age: -1}, true, nil
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, kind, key, t)
	}

	age := now.Sub(t)
	if age > d.threshold {
		return Gap{Kind: kind, Key: key, LastSeen: t, Age: age}, true, nil
	}
	return Gap{}, false, nil
}

// ScanSeries checks every given series id for candle downtime.
func (d *DowntimeDetector) ScanSeries(ctx context.Context, ids []domain.SeriesID) ([]Gap, error) {
	var gaps []Gap
	for _, id := range ids {
		gap, stale, err := d.Check(ctx, storage.KindCandle, int64(id))
		if err != nil {
			return gaps, err
		}
		if stale {
			gaps = append(gaps, gap)
		}
	}
	return gaps, nil
}

// ScanMarkets checks every given market id for funding downtime.
func (d *DowntimeDetector) ScanMarkets(ctx context.Context, ids []domain.MarketID) ([]Gap, error) {
	var gaps []Gap
	for _, id := range ids {
		gap, stale, err := d.Check(ctx, storage.KindFundingPoint, int64(id))
		if err != nil {
			return gaps, err
		}
		if stale {
			gaps = append(gaps, gap)
		}
	}
	return gaps, nil
}

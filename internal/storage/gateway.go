// Package storage defines the storage-gateway contract of §4.1: bulk
// upserts for candles, funding points, and open-interest points, plus a
// bounded range read. Implementations live in storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/sawpanic/cryptopulse/internal/domain"
)

// DefaultRangeLimit and MaxRangeLimit bound Gateway.Range (§4.1).
const (
	DefaultRangeLimit = 1000
	MaxRangeLimit     = 5000
)

// Kind discriminates the three time-series tables, used by the change
// notifier and fan-out listener (§4.7) to route a notification without
// decoding a full row.
type Kind string

const (
	KindCandle Kind = "candle"
	KindFundingPoint Kind = "funding"
	KindOpenInterest Kind = "oi"
)

// Gateway is the storage contract every collector, aggregator, and
// backfill writer submits through. All three upserts are atomic per batch;
// a validation failure aborts the whole batch (§4.1).
type Gateway interface {
	// UpsertCandles applies the candle upsert rule (§4.1, §8 property 2):
	// on conflict, the incoming row wins outright. Rows must already be
	// minute/bar aligned and pass domain.Candle.Validate; a violation is a
	// programmer error and the whole batch is rejected.
	UpsertCandles(ctx context.Context, seriesID domain.SeriesID, rows []domain.Candle) error

	// UpsertFundingPoints applies the coalesce rule (§4.1, §8 property 1):
	// on conflict, each column keeps the most recent non-absent value seen.
	UpsertFundingPoints(ctx context.Context, marketID domain.MarketID, rows []domain.FundingPoint) error

	// UpsertOpenInterestPoints mirrors UpsertFundingPoints for OI rows.
	UpsertOpenInterestPoints(ctx context.Context, marketID domain.MarketID, rows []domain.OpenInterestPoint) error

	// RangeCandles returns candle rows for seriesID in [start, end], time
	// descending, truncated to limit (default DefaultRangeLimit, capped at
	// MaxRangeLimit). Empty on no match; does not distinguish "no such
	// series" from "series with no rows in range".
	RangeCandles(ctx context.Context, seriesID domain.SeriesID, start, end time.Time, limit int) ([]domain.Candle, error)

	// RangeFundingPoints mirrors RangeCandles for funding points, keyed by
	// market id.
	RangeFundingPoints(ctx context.Context, marketID domain.MarketID, start, end time.Time, limit int) ([]domain.FundingPoint, error)

	// RangeOpenInterestPoints mirrors RangeCandles for OI points.
	RangeOpenInterestPoints(ctx context.Context, marketID domain.MarketID, start, end time.Time, limit int) ([]domain.OpenInterestPoint, error)

	// LatestRowTime reports the timestamp of the most recently stored row
	// for a key and kind, used by the downtime detector (§4.5's sibling in
	// backfill). The zero time with ok=false means no row exists.
	LatestRowTime(ctx context.Context, kind Kind, key int64) (t time.Time, ok bool, err error)
}

// ClampLimit applies the default/max limit rule shared by every range read.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRangeLimit
	}
	if limit > MaxRangeLimit {
		return MaxRangeLimit
	}
	return limit
}

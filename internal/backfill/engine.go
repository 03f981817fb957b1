// Package backfill implements the backfill engine of §4.6: it operates
// outside the real-time path, walking backwards from a time horizon in
// exchange-limit-sized chunks and submitting each chunk through the
// storage gateway so a concurrent live stream is never overwritten
// (coalesce for funding, last-write-wins for candles — both converge).
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/errs"
	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// Kind selects what data the backfill engine fetches.
type Kind string

const (
	KindCandles Kind = "candles"
	KindFunding Kind = "funding"
	KindOpenInterest Kind = "open_interest"
)

// ErrNotRecoverable marks a kind that has no historical source at all —
// open interest, per §4.6. RunOpenInterest reports it for every selected
// market; no Source returns it.
var ErrNotRecoverable = errors.New("backfill: kind has no historical source")

// Selection narrows which series/markets a Run call covers.
type Selection struct {
	Exchange string // empty = all
	Coin     string // empty = all
	All      bool
}

// Horizon bounds the time range to backfill, either as a day count ending
// now or an explicit [Start, End).
type Horizon struct {
	Days  int
	Start time.Time
	End   time.Time
}

func (h Horizon) resolve(now time.Time) (start, end time.Time) {
	if !h.End.IsZero() {
		end = h.End
	} else {
		end = now
	}
	if !h.Start.IsZero() {
		start = h.Start
	} else {
		start = end.Add(-time.Duration(h.Days) * 24 * time.Hour)
	}
	return domain.AlignToMinute(start), domain.AlignToMinute(end)
}

// CandleChunk is one page of historical candles returned by a Source, plus
// the oldest bar time in the page (the next chunk's end, per the
// walk-backwards algorithm).
type CandleChunk struct {
	Rows    []domain.Candle
	Oldest  time.Time
	HasMore bool
}

// FundingChunk mirrors CandleChunk for funding points. Historical funding
// sources are known to omit prices and open interest (§4.6); the engine
// does not synthesize them.
type FundingChunk struct {
	Rows    []domain.FundingPoint
	Oldest  time.Time
	HasMore bool
}

// Source is the per-exchange historical REST contract. One Source serves
// every series/market of its exchange.
type Source interface {
	Exchange() string
	FetchCandles(ctx context.Context, key domain.SeriesKey, end time.Time, limit int) (CandleChunk, error)
	FetchFunding(ctx context.Context, key domain.MarketKey, end time.Time, limit int) (FundingChunk, error)
}

// Result summarizes one series/market's backfill run.
type Result struct {
	Kind      Kind
	RowsWritten int
	Err       error
}

// Engine drives the chunked walk-backwards backfill described in §4.6.
type Engine struct {
	gateway   storage.Gateway
	resolver  *reference.Resolver
	sources   map[string]Source
	chunkSize int
}

// New builds an Engine. chunkSize is the per-request page size (typically
// 1000-5000 bars, §4.6); sources are keyed by exchange name.
func New(gateway storage.Gateway, resolver *reference.Resolver, sources map[string]Source, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Engine{gateway: gateway, resolver: resolver, sources: sources, chunkSize: chunkSize}
}

// RunCandles backfills candle history for every series matched by sel over
// horizon.
func (e *Engine) RunCandles(ctx context.Context, sel Selection, horizon Horizon, seriesKeys map[domain.SeriesID]domain.SeriesKey) map[domain.SeriesID]Result {
	start, end := horizon.resolve(time.Now())
	results := make(map[domain.SeriesID]Result, len(seriesKeys))

	for seriesID, key := range seriesKeys {
		if !matchesSelection(sel, key.Exchange, key.Coin) {
			continue
		}
		src, ok := e.sources[key.Exchange]
		if !ok {
			results[seriesID] = Result{Kind: KindCandles, Err: fmt.Errorf("backfill: no source for exchange %q", key.Exchange)}
			continue
		}
		n, err := e.walkCandles(ctx, src, seriesID, key, start, end)
		results[seriesID] = Result{Kind: KindCandles, RowsWritten: n, Err: err}
	}
	return results
}

func (e *Engine) walkCandles(ctx context.Context, src Source, seriesID domain.SeriesID, key domain.SeriesKey, start, end time.Time) (int, error) {
	total := 0
	cursor := end
	for {
		chunk, err := src.FetchCandles(ctx, key, cursor, e.chunkSize)
		if err != nil {
			return total, fmt.Errorf("backfill: fetch candles %s: %w", key, err)
		}
		if len(chunk.Rows) == 0 {
			return total, nil
		}

		aligned := make([]domain.Candle, 0, len(chunk.Rows))
		for _, row := range chunk.Rows {
			row.Time = domain.AlignToMinute(row.Time)
			row.SeriesID = seriesID
			if err := row.Validate(); err != nil {
				log.Warn().Str("exchange", key.Exchange).Err(err).Msg("backfill dropped invalid candle")
				continue
			}
			aligned = append(aligned, row)
		}
		if len(aligned) > 0 {
			if err := e.gateway.UpsertCandles(ctx, seriesID, aligned); err != nil {
				return total, fmt.Errorf("backfill: upsert candles %s: %w", key, err)
			}
			total += len(aligned)
		}

		if chunk.Oldest.IsZero() || !chunk.Oldest.After(start) || !chunk.HasMore {
			return total, nil
		}
		cursor = chunk.Oldest
	}
}

// RunFunding backfills funding history for every market matched by sel.
// Historical funding omits price/OI fields; the coalesce upsert rule
// ensures a later live row never gets reverted by a replay (§4.1, §8
// property 1, scenario B).
func (e *Engine) RunFunding(ctx context.Context, sel Selection, horizon Horizon, marketKeys map[domain.MarketID]domain.MarketKey) map[domain.MarketID]Result {
	start, end := horizon.resolve(time.Now())
	results := make(map[domain.MarketID]Result, len(marketKeys))

	for marketID, key := range marketKeys {
		if !matchesSelection(sel, key.Exchange, key.Coin) {
			continue
		}
		src, ok := e.sources[key.Exchange]
		if !ok {
			results[marketID] = Result{Kind: KindFunding, Err: fmt.Errorf("backfill: no source for exchange %q", key.Exchange)}
			continue
		}
		n, err := e.walkFunding(ctx, src, marketID, key, start, end)
		results[marketID] = Result{Kind: KindFunding, RowsWritten: n, Err: err}
	}
	return results
}

func (e *Engine) walkFunding(ctx context.Context, src Source, marketID domain.MarketID, key domain.MarketKey, start, end time.Time) (int, error) {
	total := 0
	cursor := end
	for {
		chunk, err := src.FetchFunding(ctx, key, cursor, e.chunkSize)
		if err != nil {
			return total, fmt.Errorf("backfill: fetch funding %s: %w", key, err)
		}
		if len(chunk.Rows) == 0 {
			return total, nil
		}

		aligned := make([]domain.FundingPoint, 0, len(chunk.Rows))
		for _, row := range chunk.Rows {
			row.Time = domain.AlignToMinute(row.Time)
			row.MarketID = marketID
			aligned = append(aligned, row)
		}
		if err := e.gateway.UpsertFundingPoints(ctx, marketID, aligned); err != nil {
			return total, fmt.Errorf("backfill: upsert funding %s: %w", key, err)
		}
		total += len(aligned)

		if chunk.Oldest.IsZero() || !chunk.Oldest.After(start) || !chunk.HasMore {
			return total, nil
		}
		cursor = chunk.Oldest
	}
}

// RunOpenInterest always returns a not-recoverable error: no exchange
// exposes historical open interest (§4.6).
func (e *Engine) RunOpenInterest(ctx context.Context, sel Selection, horizon Horizon, marketKeys map[domain.MarketID]domain.MarketKey) map[domain.MarketID]Result {
	results := make(map[domain.MarketID]Result, len(marketKeys))
	for marketID, key := range marketKeys {
		if !matchesSelection(sel, key.Exchange, key.Coin) {
			continue
		}
		results[marketID] = Result{Kind: KindOpenInterest, Err: errs.New(errs.KindValidation, "open interest has no historical source", ErrNotRecoverable)}
	}
	return results
}

func matchesSelection(sel Selection, exchange, coin string) bool {
	if sel.All {
		return true
	}
	if sel.Exchange != "" && sel.Exchange != exchange {
		return false
	}
	if sel.Coin != "" && sel.Coin != coin {
		return false
	}
	return true
}

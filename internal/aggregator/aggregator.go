// Package aggregator implements the minute-bucket aggregator of §4.3: it
// retains only the most recent funding/open-interest tick per market within
// the current minute and flushes a coalesced batch at each boundary.
package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/money"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// FundingTick is one funding/premium/mark-price sample as reported by an
// exchange, before the aggregator assigns it a boundary timestamp.
type FundingTick struct {
	FundingRate     money.Optional
	Premium         money.Optional
	MarkPrice       money.Optional
	IndexPrice      money.Optional
	OraclePrice     money.Optional
	MidPrice        money.Optional
	NextFundingTime *time.Time
}

// OpenInterestTick is one open-interest sample.
type OpenInterestTick struct {
	OpenInterest      money.Optional
	NotionalValue     money.Optional
	DayBaseVolume     money.Optional
	DayNotionalVolume money.Optional
}

// flushConcurrency bounds how many per-market upsert calls run at once
// during a flush; the storage.Gateway contract takes one market per call,
// so a flush covering many markets fans out instead of serializing.
const flushConcurrency = 8

// Aggregator owns one funding bucket and one open-interest bucket and
// drives the minute-boundary flush loop.
type Aggregator struct {
	gateway storage.Gateway

	funding *bucket[FundingTick]
	oi      *bucket[OpenInterestTick]

	flushed     atomic.Int64
	writeErrors atomic.Int64
	flushing    atomic.Bool
}

// New builds an Aggregator that submits flushed rows through gateway.
func New(gateway storage.Gateway) *Aggregator {
	return &Aggregator{
		gateway: gateway,
		funding: newBucket[FundingTick](),
		oi:      newBucket[OpenInterestTick](),
	}
}

// IngestFunding hands a tick to the funding bucket's latest-wins buffer.
func (a *Aggregator) IngestFunding(marketID domain.MarketID, exchangeTime time.Time, tick FundingTick) {
	a.funding.ingest(marketID, exchangeTime, tick)
}

// IngestOpenInterest hands a tick to the open-interest bucket.
func (a *Aggregator) IngestOpenInterest(marketID domain.MarketID, exchangeTime time.Time, tick OpenInterestTick) {
	a.oi.ingest(marketID, exchangeTime, tick)
}

// Run blocks until ctx is cancelled, flushing at every wall-clock minute
// boundary. On cancellation it performs one final synchronous flush before
// returning, matching the supervisor's shutdown contract (§4.5).
func (a *Aggregator) Run(ctx context.Context) {
	for {
		next := nextMinuteBoundary(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			a.Flush(context.Background(), next)
		case <-ctx.Done():
			timer.Stop()
			a.Flush(context.Background(), domain.AlignToMinute(time.Now()))
			return
		}
	}
}

func nextMinuteBoundary(t time.Time) time.Time {
	return domain.AlignToMinute(t).Add(time.Minute)
}

// Flush drains both buckets and submits one upsert batch per kind, keyed by
// boundaryTime rather than any tick's own timestamp so funding and
// open-interest rows for the same market always share a joinable time
// column. If a flush is already in progress when this one starts, it
// proceeds anyway with whatever is buffered at that moment — flushes never
// stack or skip (§4.3).
func (a *Aggregator) Flush(ctx context.Context, boundaryTime time.Time) {
	if !a.flushing.CompareAndSwap(false, true) {
		log.Warn().Time("boundary", boundaryTime).Msg("aggregator flush overlapped previous flush")
	}
	defer a.flushing.Store(false)

	fundingRows := a.funding.drain()
	oiRows := a.oi.drain()

	var wg sync.WaitGroup
	sem := make(chan struct{}, flushConcurrency)

	for marketID, tick := range fundingRows {
		wg.Add(1)
		sem <- struct{}{}
		go func(marketID domain.MarketID, tick FundingTick) {
			defer wg.Done()
			defer func() { <-sem }()
			a.flushFunding(ctx, marketID, boundaryTime, tick)
		}(marketID, tick)
	}
	for marketID, tick := range oiRows {
		wg.Add(1)
		sem <- struct{}{}
		go func(marketID domain.MarketID, tick OpenInterestTick) {
			defer wg.Done()
			defer func() { <-sem }()
			a.flushOpenInterest(ctx, marketID, boundaryTime, tick)
		}(marketID, tick)
	}
	wg.Wait()

	a.flushed.Add(1)
}

func (a *Aggregator) flushFunding(ctx context.Context, marketID domain.MarketID, boundaryTime time.Time, tick FundingTick) {
	row := domain.FundingPoint{
		Time:            boundaryTime,
		MarketID:        marketID,
		FundingRate:     tick.FundingRate,
		Premium:         tick.Premium,
		MarkPrice:       tick.MarkPrice,
		IndexPrice:      tick.IndexPrice,
		OraclePrice:     tick.OraclePrice,
		MidPrice:        tick.MidPrice,
		NextFundingTime: tick.NextFundingTime,
	}
	if err := a.gateway.UpsertFundingPoints(ctx, marketID, []domain.FundingPoint{row}); err != nil {
		a.writeErrors.Add(1)
		log.Error().Err(err).Int64("market_id", int64(marketID)).Msg("funding flush failed")
	}
}

func (a *Aggregator) flushOpenInterest(ctx context.Context, marketID domain.MarketID, boundaryTime time.Time, tick OpenInterestTick) {
	row := domain.OpenInterestPoint{
		Time:              boundaryTime,
		MarketID:          marketID,
		OpenInterest:      tick.OpenInterest,
		NotionalValue:     tick.NotionalValue,
		DayBaseVolume:     tick.DayBaseVolume,
		DayNotionalVolume: tick.DayNotionalVolume,
	}
	if err := a.gateway.UpsertOpenInterestPoints(ctx, marketID, []domain.OpenInterestPoint{row}); err != nil {
		a.writeErrors.Add(1)
		log.Error().Err(err).Int64("market_id", int64(marketID)).Msg("open interest flush failed")
	}
}

// Stats reports cumulative flush counters for the metrics endpoint.
func (a *Aggregator) Stats() (flushed, writeErrors int64) {
	return a.flushed.Load(), a.writeErrors.Load()
}

package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/money"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

// fakeGateway records every upsert call so tests can assert on exactly what
// the aggregator submitted, without a database.
type fakeGateway struct {
	mu          sync.Mutex
	fundingRows []domain.FundingPoint
	oiRows      []domain.OpenInterestPoint
}

func (f *fakeGateway) UpsertCandles(context.Context, domain.SeriesID, []domain.Candle) error {
	return nil
}

func (f *fakeGateway) UpsertFundingPoints(_ context.Context, _ domain.MarketID, rows []domain.FundingPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fundingRows = append(f.fundingRows, rows...)
	return nil
}

func (f *fakeGateway) UpsertOpenInterestPoints(_ context.Context, _ domain.MarketID, rows []domain.OpenInterestPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oiRows = append(f.oiRows, rows...)
	return nil
}

func (f *fakeGateway) RangeCandles(context.Context, domain.SeriesID, time.Time, time.Time, int) ([]domain.Candle, error) {
	return nil, nil
}

func (f *fakeGateway) RangeFundingPoints(context.Context, domain.MarketID, time.Time, time.Time, int) ([]domain.FundingPoint, error) {
	return nil, nil
}

func (f *fakeGateway) RangeOpenInterestPoints(context.Context, domain.MarketID, time.Time, time.Time, int) ([]domain.OpenInterestPoint, error) {
	return nil, nil
}

func (f *fakeGateway) LatestRowTime(context.Context, storage.Kind, int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

var _ storage.Gateway = (*fakeGateway)(nil)

func TestAggregator_LatestWinsWithinBoundary(t *testing.T) {
	gw := &fakeGateway{}
	agg := New(gw)

	boundary := domain.AlignToMinute(time.Date(2026, 1, 1, 12, 34, 0, 0, time.UTC))
	base := boundary

	rate1, _ := money.FromString("0.0001")
	rate2, _ := money.FromString("0.00012")
	rate3, _ := money.FromString("0.00011")
	mark3, _ := money.FromString("67508.75")

	agg.IngestFunding(1, base.Add(3*time.Second), FundingTick{FundingRate: rate1})
	agg.IngestFunding(1, base.Add(58*time.Second), FundingTick{FundingRate: rate3, MarkPrice: mark3})
	agg.IngestFunding(1, base.Add(27*time.Second), FundingTick{FundingRate: rate2}) // arrives late, reported time is earlier, must lose

	agg.Flush(context.Background(), boundary)

	require.Len(t, gw.fundingRows, 1)
	row := gw.fundingRows[0]
	assert.True(t, row.Time.Equal(boundary))
	assert.Equal(t, domain.MarketID(1), row.MarketID)
	assert.Equal(t, "0.00011", row.FundingRate.Value.String())
	assert.Equal(t, "67508.75", row.MarkPrice.Value.String())
}

func TestAggregator_FlushIsEmptyWhenBucketEmpty(t *testing.T) {
	gw := &fakeGateway{}
	agg := New(gw)

	agg.Flush(context.Background(), time.Now())

	assert.Empty(t, gw.fundingRows)
	assert.Empty(t, gw.oiRows)
	flushed, writeErrors := agg.Stats()
	assert.Equal(t, int64(1), flushed)
	assert.Equal(t, int64(0), writeErrors)
}

func TestAggregator_FundingAndOpenInterestShareBoundaryTime(t *testing.T) {
	gw := &fakeGateway{}
	agg := New(gw)

	boundary := domain.AlignToMinute(time.Now())
	oi, _ := money.FromString("12345.67")
	rate, _ := money.FromString("0.0001")

	agg.IngestFunding(2, boundary.Add(10*time.Second), FundingTick{FundingRate: rate})
	agg.IngestOpenInterest(2, boundary.Add(40*time.Second), OpenInterestTick{OpenInterest: oi})

	agg.Flush(context.Background(), boundary)

	require.Len(t, gw.fundingRows, 1)
	require.Len(t, gw.oiRows, 1)
	assert.True(t, gw.fundingRows[0].Time.Equal(gw.oiRows[0].Time))
}

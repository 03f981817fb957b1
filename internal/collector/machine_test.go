package collector

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:        "idle",
		StateConnecting:  "connecting",
		StateSubscribing: "subscribing",
		StateRunning:     "running",
		State(99):        "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestBackoffDelay_GrowsAndCapsAtMax(t *testing.T) {
	m := &Machine{backoff: config.BackoffConfig{BaseMS: 100, MaxMS: 1000, Jitter: 0}}

	d0 := m.backoffDelay(0)
	d5 := m.backoffDelay(5)
	dMax := m.backoffDelay(50)

	if d0 < 100*time.Millisecond {
		t.Errorf("attempt 0 delay too small: %v", d0)
	}
	if d5 <= d0 {
		t.Errorf("expected backoff to grow with attempt count: d0=%v d5=%v", d0, d5)
	}
	if dMax > 1000*time.Millisecond {
		t.Errorf("expected delay to cap at max, got %v", dMax)
	}
}

func TestMachine_InitialStateIsIdle(t *testing.T) {
	m := New(nil, nil, nil, nil, config.BackoffConfig{})
	if m.State() != StateIdle {
		t.Errorf("expected initial state idle, got %v", m.State())
	}
}

// fakeGateway implements storage.Gateway, recording upserted rows; used by
// dispatch-level tests elsewhere in this package's exchange adapters.
type fakeGateway struct {
	candles []domain.Candle
	funding []domain.FundingPoint
	oi      []domain.OpenInterestPoint
}

func (f *fakeGateway) UpsertCandles(ctx context.Context, seriesID domain.SeriesID, rows []domain.Candle) error {
	f.candles = append(f.candles, rows...)
	return nil
}
func (f *fakeGateway) UpsertFundingPoints(ctx context.Context, marketID domain.MarketID, rows []domain.FundingPoint) error {
	f.funding = append(f.funding, rows...)
	return nil
}
func (f *fakeGateway) UpsertOpenInterestPoints(ctx context.Context, marketID domain.MarketID, rows []domain.OpenInterestPoint) error {
	f.oi = append(f.oi, rows...)
	return nil
}
func (f *fakeGateway) RangeCandles(ctx context.Context, seriesID domain.SeriesID, start, end time.Time, limit int) ([]domain.Candle, error) {
	return nil, nil
}
func (f *fakeGateway) RangeFundingPoints(ctx context.Context, marketID domain.MarketID, start, end time.Time, limit int) ([]domain.FundingPoint, error) {
	return nil, nil
}
func (f *fakeGateway) RangeOpenInterestPoints(ctx context.Context, marketID domain.MarketID, start, end time.Time, limit int) ([]domain.OpenInterestPoint, error) {
	return nil, nil
}
func (f *fakeGateway) LatestRowTime(ctx context.Context, kind storage.Kind, key int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

var _ storage.Gateway = (*fakeGateway)(nil)

package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptopulse/internal/money"
)

// Candle is one OHLCV bar. Uniqueness: (Time, SeriesID). Candles are
// authoritative per source: on conflict the most recent upsert wins
// outright (§4.1, §8 property 2) — no coalesce.
type Candle struct {
	Time       time.Time       `db:"time" json:"time"`
	SeriesID   SeriesID        `db:"series_id" json:"series_id"`
	Open       decimal.Decimal `db:"open" json:"open"`
	High       decimal.Decimal `db:"high" json:"high"`
	Low        decimal.Decimal `db:"low" json:"low"`
	Close      decimal.Decimal `db:"close" json:"close"`
	Volume     decimal.Decimal `db:"volume" json:"volume"`
	TradeCount *int64          `db:"trade_count" json:"trade_count,omitempty"`
}

// Validate enforces the OHLC invariants of §3 / §8 property 4. A failure
// here is a programmer error at a trust boundary: the caller's batch is
// dropped, not retried.
func (c Candle) Validate() error {
	zero := decimal.Zero
	if c.Open.LessThanOrEqual(zero) || c.High.LessThanOrEqual(zero) ||
		c.Low.LessThanOrEqual(zero) || c.Close.LessThanOrEqual(zero) {
		return fmt.Errorf("candle %v/%d: open, high, low, close must be > 0", c.Time, c.SeriesID)
	}
	if c.Volume.LessThan(zero) {
		return fmt.Errorf("candle %v/%d: volume must be >= 0", c.Time, c.SeriesID)
	}
	maxOCL := decimal.Max(c.Open, c.Close, c.Low)
	if c.High.LessThan(maxOCL) {
		return fmt.Errorf("candle %v/%d: high %s < max(open,close,low) %s", c.Time, c.SeriesID, c.High, maxOCL)
	}
	minOHC := decimal.Min(c.Open, c.High, c.Close)
	if c.Low.GreaterThan(minOHC) {
		return fmt.Errorf("candle %v/%d: low %s > min(open,high,close) %s", c.Time, c.SeriesID, c.Low, minOHC)
	}
	if !c.Time.Equal(AlignToMinute(c.Time)) {
		return fmt.Errorf("candle %v/%d: time is not minute-aligned", c.Time, c.SeriesID)
	}
	return nil
}

// AlignToMinute truncates t to the start of its minute in UTC, the
// alignment rule §3 requires of every persisted row.
func AlignToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// AlignToBar truncates t to the start of the bar duration containing it,
// used by the collector (§4.4) for intervals >= 1 hour; sub-hour bars are
// already minute-aligned by the exchange.
func AlignToBar(t time.Time, barSeconds int32) time.Time {
	d := time.Duration(barSeconds) * time.Second
	if d <= 0 {
		return AlignToMinute(t)
	}
	return t.UTC().Truncate(d)
}

// FundingPoint is one minute-aligned funding sample. Uniqueness: (Time,
// MarketID). Every field but the primary-key components may be absent;
// absent fields never clobber a present existing value on upsert (§4.1).
type FundingPoint struct {
	Time            time.Time       `db:"time" json:"time"`
	MarketID        MarketID        `db:"market_id" json:"market_id"`
	FundingRate     money.Optional  `db:"funding_rate" json:"funding_rate"`
	Premium         money.Optional  `db:"premium" json:"premium"`
	MarkPrice       money.Optional  `db:"mark_price" json:"mark_price"`
	IndexPrice      money.Optional  `db:"index_price" json:"index_price"`
	OraclePrice     money.Optional  `db:"oracle_price" json:"oracle_price"`
	MidPrice        money.Optional  `db:"mid_price" json:"mid_price"`
	NextFundingTime *time.Time      `db:"next_funding_time" json:"next_funding_time,omitempty"`
}

// OpenInterestPoint is one minute-aligned open-interest sample.
// Uniqueness: (Time, MarketID).
type OpenInterestPoint struct {
	Time             time.Time      `db:"time" json:"time"`
	MarketID         MarketID       `db:"market_id" json:"market_id"`
	OpenInterest     money.Optional `db:"open_interest" json:"open_interest"`
	NotionalValue    money.Optional `db:"notional_value" json:"notional_value"`
	DayBaseVolume    money.Optional `db:"day_base_volume" json:"day_base_volume"`
	DayNotionalVolume money.Optional `db:"day_notional_volume" json:"day_notional_volume"`
}

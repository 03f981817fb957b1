// Package domain holds the reference and time-series entities of §3: low
// mutation reference rows (exchange, asset, market type, interval), the
// interval-independent market identifier, the per-interval series
// identifier, and the three time-series row shapes (candle, funding point,
// open-interest point).
package domain

// Exchange is a reference entity: {id, name, display name, active flag}.
// Created by configuration sync, deactivated by flag flip, never
// hard-deleted.
type Exchange struct {
	ID          int32  `db:"id"`
	Name        string `db:"name"` // unique, case-sensitive
	DisplayName string `db:"display_name"`
	Active      bool   `db:"active"`
}

// Asset is a reference entity shared by base (coin) and quote assets.
type Asset struct {
	ID     int32  `db:"id"`
	Symbol string `db:"symbol"` // unique, case-sensitive
	Active bool   `db:"active"`
}

// MarketType is a reference entity (e.g. "spot", "perpetual").
type MarketType struct {
	ID     int32  `db:"id"`
	Name   string `db:"name"`
	Active bool   `db:"active"`
}

// Interval is a reference entity carrying the bar duration in seconds.
type Interval struct {
	ID            int32  `db:"id"`
	Name          string `db:"name"` // e.g. "1m", "1h"
	SecondsPerBar int32  `db:"seconds_per_bar"`
	Active        bool   `db:"active"`
}

// MarketID identifies one interval-independent stream of per-market data
// (funding, open interest): the tuple (exchange, coin, quote, market type).
type MarketID int64

// SeriesID identifies one candle stream: the tuple (exchange, coin, quote,
// market type, interval). Every SeriesID resolves to exactly one MarketID;
// that mapping is set at configuration time and never rewritten.
type SeriesID int64

// Market is the resolved row behind a MarketID.
type Market struct {
	ID         MarketID `db:"id"`
	ExchangeID int32    `db:"exchange_id"`
	BaseID     int32    `db:"base_id"`
	QuoteID    int32    `db:"quote_id"`
	MarketType int32    `db:"market_type_id"`
}

// Series is the resolved row behind a SeriesID.
type Series struct {
	ID         SeriesID `db:"id"`
	MarketID   MarketID `db:"market_id"`
	IntervalID int32    `db:"interval_id"`
}

// MarketKey is the (exchange, coin, quote, market type) lookup tuple used
// to resolve a Market.
type MarketKey struct {
	Exchange   string
	Coin       string
	Quote      string
	MarketType string
}

// SeriesKey is the (exchange, coin, quote, market type, interval) lookup
// tuple used to resolve a Series.
type SeriesKey struct {
	MarketKey
	Interval string
}

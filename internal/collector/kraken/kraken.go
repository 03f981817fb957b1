// Package kraken implements a collector.Adapter for Kraken's v2 WebSocket:
// the ohlc channel per configured series, and the ticker channel's
// funding-rate and mark-price fields per configured perpetual market. It
// emits no open-interest frames.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptopulse/internal/aggregator"
	"github.com/sawpanic/cryptopulse/internal/collector"
	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/money"
)

// SeriesSpec is one configured candle stream.
type SeriesSpec struct {
	Key           domain.SeriesKey
	Symbol        string // Kraken v2 pair name, e.g. "BTC/USD"
	IntervalMin   int    // candle channel interval in minutes
	SecondsPerBar int32
}

// MarketSpec is one configured ticker/funding stream (perpetual markets).
type MarketSpec struct {
	Key    domain.MarketKey
	Symbol string
}

// Adapter implements collector.Adapter for Kraken.
type Adapter struct {
	cfg     config.ExchangeConfig
	series  []SeriesSpec
	markets []MarketSpec
}

// New builds a Kraken Adapter.
func New(cfg config.ExchangeConfig, series []SeriesSpec, markets []MarketSpec) *Adapter {
	return &Adapter{cfg: cfg, series: series, markets: markets}
}

func (a *Adapter) Name() string { return "kraken" }

func (a *Adapter) Dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.WSBaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kraken: dial: %w", err)
	}
	return conn, nil
}

func (a *Adapter) SubscriptionFrames() ([][]byte, error) {
	var frames [][]byte

	bySymbolInterval := map[int][]string{}
	for _, s := range a.series {
		bySymbolInterval[s.IntervalMin] = append(bySymbolInterval[s.IntervalMin], s.Symbol)
	}
	for interval, symbols := range bySymbolInterval {
		data, err := json.Marshal(map[string]interface{}{
			"method": "subscribe",
			"params": map[string]interface{}{
				"channel":  "ohlc",
				"symbol":   symbols,
				"interval": interval,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("kraken: marshal ohlc subscribe: %w", err)
		}
		frames = append(frames, data)
	}

	if len(a.markets) > 0 {
		symbols := make([]string, 0, len(a.markets))
		for _, m := range a.markets {
			symbols = append(symbols, m.Symbol)
		}
		data, err := json.Marshal(map[string]interface{}{
			"method": "subscribe",
			"params": map[string]interface{}{
				"channel": "ticker",
				"symbol":  symbols,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("kraken: marshal ticker subscribe: %w", err)
		}
		frames = append(frames, data)
	}

	return frames, nil
}

func (a *Adapter) AckTimeout() time.Duration { return 5 * time.Second }

func (a *Adapter) IsAck(data []byte) bool {
	var ack struct {
		Method  string `json:"method"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return false
	}
	return ack.Method == "subscribe" && ack.Success
}

type krakenEnvelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func (a *Adapter) ParseFrame(data []byte) (collector.Frame, error) {
	var env krakenEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return collector.Frame{}, fmt.Errorf("kraken: envelope: %w", err)
	}

	switch env.Channel {
	case "ohlc":
		return a.parseOHLC(env.Data)
	case "ticker":
		return a.parseTicker(env.Data)
	case "heartbeat":
		return collector.Frame{Kind: collector.FrameHeartbeat}, nil
	default:
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}
}

type krakenOHLC struct {
	Symbol    string  `json:"symbol"`
	Interval  int     `json:"interval"`
	IntervalBegin string `json:"interval_begin"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

func (a *Adapter) parseOHLC(raw json.RawMessage) (collector.Frame, error) {
	var rows []krakenOHLC
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return collector.Frame{}, fmt.Errorf("kraken: ohlc rows: %w", err)
	}
	row := rows[0]

	spec, ok := a.lookupSeries(row.Symbol, row.Interval)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	startTime, err := time.Parse(time.RFC3339, row.IntervalBegin)
	if err != nil {
		return collector.Frame{}, fmt.Errorf("kraken: interval_begin: %w", err)
	}
	barTime := domain.AlignToMinute(startTime)
	if spec.SecondsPerBar >= 3600 {
		barTime = domain.AlignToBar(startTime, spec.SecondsPerBar)
	}

	return collector.Frame{
		Kind:      collector.FrameCandle,
		SeriesKey: spec.Key,
		Candle: domain.Candle{
			Time:   barTime,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		},
	}, nil
}

type krakenTicker struct {
	Symbol       string `json:"symbol"`
	MarkPrice    string `json:"mark_price,omitempty"`
	FundingRate  string `json:"funding_rate,omitempty"`
}

func (a *Adapter) parseTicker(raw json.RawMessage) (collector.Frame, error) {
	var rows []krakenTicker
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return collector.Frame{}, fmt.Errorf("kraken: ticker rows: %w", err)
	}
	row := rows[0]

	spec, ok := a.lookupMarket(row.Symbol)
	if !ok || row.FundingRate == "" {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	rate, err := money.FromString(row.FundingRate)
	if err != nil {
		return collector.Frame{}, fmt.Errorf("kraken: funding rate: %w", err)
	}
	var mark money.Optional
	if row.MarkPrice != "" {
		mark, err = money.FromString(row.MarkPrice)
		if err != nil {
			return collector.Frame{}, fmt.Errorf("kraken: mark price: %w", err)
		}
	}

	return collector.Frame{
		Kind:         collector.FrameFunding,
		MarketKey:    spec.Key,
		ExchangeTime: time.Now().UTC(),
		Funding: aggregator.FundingTick{
			FundingRate: rate,
			MarkPrice:   mark,
		},
	}, nil
}

func (a *Adapter) lookupSeries(symbol string, interval int) (SeriesSpec, bool) {
	for _, s := range a.series {
		if s.Symbol == symbol && s.IntervalMin == interval {
			return s, true
		}
	}
	return SeriesSpec{}, false
}

func (a *Adapter) lookupMarket(symbol string) (MarketSpec, bool) {
	for _, m := range a.markets {
		if m.Symbol == symbol {
			return m, true
		}
	}
	return MarketSpec{}, false
}

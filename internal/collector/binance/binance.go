// Package binance implements a collector.Adapter for Binance's combined
// WebSocket stream: kline bars per configured series and mark-price
// (funding/premium) ticks per configured market.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
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
	Symbol        string // Binance wire symbol, e.g. "btcusdt"
	Interval      string // Binance kline interval code, e.g. "1m"
	SecondsPerBar int32
}

// MarketSpec is one configured funding/mark-price stream.
type MarketSpec struct {
	Key    domain.MarketKey
	Symbol string
}

// Adapter implements collector.Adapter for Binance.
type Adapter struct {
	cfg     config.ExchangeConfig
	series  []SeriesSpec
	markets []MarketSpec
}

// New builds a Binance Adapter over the configured series/markets.
func New(cfg config.ExchangeConfig, series []SeriesSpec, markets []MarketSpec) *Adapter {
	return &Adapter{cfg: cfg, series: series, markets: markets}
}

func (a *Adapter) Name() string { return "binance" }

func (a *Adapter) Dial(ctx context.Context) (*websocket.Conn, error) {
	url := strings.TrimSuffix(a.cfg.WSBaseURL, "/") + "/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: dial: %w", err)
	}
	return conn, nil
}

func (a *Adapter) SubscriptionFrames() ([][]byte, error) {
	streams := make([]string, 0, len(a.series)+len(a.markets))
	for _, s := range a.series {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", s.Symbol, s.Interval))
	}
	for _, m := range a.markets {
		streams = append(streams, fmt.Sprintf("%s@markPrice", m.Symbol))
	}
	frame := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("binance: marshal subscribe: %w", err)
	}
	return [][]byte{data}, nil
}

func (a *Adapter) AckTimeout() time.Duration { return 5 * time.Second }

func (a *Adapter) IsAck(data []byte) bool {
	var ack struct {
		ID     int         `json:"id"`
		Result interface{} `json:"result"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return false
	}
	return ack.ID != 0
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	EventTime int64 `json:"E"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Trades    int64  `json:"n"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

type markPriceEvent struct {
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	EstFundingRate  string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// ParseFrame decodes one Binance combined-stream message.
func (a *Adapter) ParseFrame(data []byte) (collector.Frame, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return collector.Frame{}, fmt.Errorf("binance: envelope: %w", err)
	}
	if env.Stream == "" {
		return collector.Frame{Kind: collector.FrameHeartbeat}, nil
	}

	switch {
	case strings.Contains(env.Stream, "@kline_"):
		return a.parseKline(env.Data)
	case strings.Contains(env.Stream, "@markPrice"):
		return a.parseMarkPrice(env.Data)
	default:
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}
}

func (a *Adapter) parseKline(raw json.RawMessage) (collector.Frame, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return collector.Frame{}, fmt.Errorf("binance: kline: %w", err)
	}

	spec, ok := a.lookupSeries(ev.Kline.Symbol, ev.Kline.Interval)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	open, err1 := decimal.NewFromString(ev.Kline.Open)
	high, err2 := decimal.NewFromString(ev.Kline.High)
	low, err3 := decimal.NewFromString(ev.Kline.Low)
	cls, err4 := decimal.NewFromString(ev.Kline.Close)
	vol, err5 := decimal.NewFromString(ev.Kline.Volume)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return collector.Frame{}, fmt.Errorf("binance: kline decimals: %w", err)
	}

	startTime := time.UnixMilli(ev.Kline.StartTime).UTC()
	barTime := startTime
	if spec.SecondsPerBar >= 3600 {
		barTime = domain.AlignToBar(startTime, spec.SecondsPerBar)
	} else {
		barTime = domain.AlignToMinute(startTime)
	}

	trades := ev.Kline.Trades
	return collector.Frame{
		Kind:      collector.FrameCandle,
		SeriesKey: spec.Key,
		Candle: domain.Candle{
			Time:       barTime,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      cls,
			Volume:     vol,
			TradeCount: &trades,
		},
	}, nil
}

func (a *Adapter) parseMarkPrice(raw json.RawMessage) (collector.Frame, error) {
	var ev markPriceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return collector.Frame{}, fmt.Errorf("binance: mark price: %w", err)
	}

	spec, ok := a.lookupMarket(ev.Symbol)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	mark, errM := money.FromString(ev.MarkPrice)
	index, errI := money.FromString(ev.IndexPrice)
	rate, errR := money.FromString(ev.EstFundingRate)
	if errM != nil || errI != nil || errR != nil {
		return collector.Frame{}, fmt.Errorf("binance: mark price decimals")
	}

	var nextFunding *time.Time
	if ev.NextFundingTime > 0 {
		t := time.UnixMilli(ev.NextFundingTime).UTC()
		nextFunding = &t
	}

	return collector.Frame{
		Kind:         collector.FrameFunding,
		MarketKey:    spec.Key,
		ExchangeTime: time.UnixMilli(ev.EventTime).UTC(),
		Funding: aggregator.FundingTick{
			FundingRate:     rate,
			MarkPrice:       mark,
			IndexPrice:      index,
			NextFundingTime: nextFunding,
		},
	}, nil
}

func (a *Adapter) lookupSeries(symbol, interval string) (SeriesSpec, bool) {
	for _, s := range a.series {
		if s.Symbol == symbol && s.Interval == interval {
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

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

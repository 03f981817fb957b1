// Package okx implements a collector.Adapter for OKX's public WebSocket:
// candle channel per configured series, funding-rate and open-interest
// channels per configured market.
package okx

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
	InstID        string // OKX instrument id, e.g. "BTC-USDT"
	Bar           string // OKX candle channel bar, e.g. "1m"
	SecondsPerBar int32
}

// MarketSpec is one configured funding-rate/open-interest stream.
type MarketSpec struct {
	Key    domain.MarketKey
	InstID string
}

// Adapter implements collector.Adapter for OKX.
type Adapter struct {
	cfg     config.ExchangeConfig
	series  []SeriesSpec
	markets []MarketSpec
}

// New builds an OKX Adapter.
func New(cfg config.ExchangeConfig, series []SeriesSpec, markets []MarketSpec) *Adapter {
	return &Adapter{cfg: cfg, series: series, markets: markets}
}

func (a *Adapter) Name() string { return "okx" }

func (a *Adapter) Dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.WSBaseURL+"/ws/v5/public", nil)
	if err != nil {
		return nil, fmt.Errorf("okx: dial: %w", err)
	}
	return conn, nil
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (a *Adapter) SubscriptionFrames() ([][]byte, error) {
	var args []okxArg
	for _, s := range a.series {
		args = append(args, okxArg{Channel: "candle" + s.Bar, InstID: s.InstID})
	}
	for _, m := range a.markets {
		args = append(args, okxArg{Channel: "funding-rate", InstID: m.InstID})
		args = append(args, okxArg{Channel: "open-interest", InstID: m.InstID})
	}
	data, err := json.Marshal(map[string]interface{}{"op": "subscribe", "args": args})
	if err != nil {
		return nil, fmt.Errorf("okx: marshal subscribe: %w", err)
	}
	return [][]byte{data}, nil
}

func (a *Adapter) AckTimeout() time.Duration { return 5 * time.Second }

func (a *Adapter) IsAck(data []byte) bool {
	var ack struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return false
	}
	return ack.Event == "subscribe"
}

type okxEnvelope struct {
	Arg  okxArg            `json:"arg"`
	Data []json.RawMessage `json:"data"`
}

func (a *Adapter) ParseFrame(data []byte) (collector.Frame, error) {
	var env okxEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return collector.Frame{}, fmt.Errorf("okx: envelope: %w", err)
	}
	if env.Arg.Channel == "" || len(env.Data) == 0 {
		return collector.Frame{Kind: collector.FrameHeartbeat}, nil
	}

	switch {
	case len(env.Arg.Channel) >= 6 && env.Arg.Channel[:6] == "candle":
		return a.parseCandle(env.Arg, env.Data[0])
	case env.Arg.Channel == "funding-rate":
		return a.parseFundingRate(env.Arg, env.Data[0])
	case env.Arg.Channel == "open-interest":
		return a.parseOpenInterest(env.Arg, env.Data[0])
	default:
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}
}

// OKX candle rows arrive as a tuple: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
func (a *Adapter) parseCandle(arg okxArg, raw json.RawMessage) (collector.Frame, error) {
	var tuple []string
	if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) < 6 {
		return collector.Frame{}, fmt.Errorf("okx: candle tuple: %w", err)
	}

	spec, ok := a.lookupSeries(arg.InstID)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	tsMillis, err := decimal.NewFromString(tuple[0])
	if err != nil {
		return collector.Frame{}, fmt.Errorf("okx: candle ts: %w", err)
	}
	open, err1 := decimal.NewFromString(tuple[1])
	high, err2 := decimal.NewFromString(tuple[2])
	low, err3 := decimal.NewFromString(tuple[3])
	cls, err4 := decimal.NewFromString(tuple[4])
	vol, err5 := decimal.NewFromString(tuple[5])
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return collector.Frame{}, fmt.Errorf("okx: candle decimals: %w", err)
	}

	startTime := time.UnixMilli(tsMillis.IntPart()).UTC()
	barTime := domain.AlignToMinute(startTime)
	if spec.SecondsPerBar >= 3600 {
		barTime = domain.AlignToBar(startTime, spec.SecondsPerBar)
	}

	return collector.Frame{
		Kind:      collector.FrameCandle,
		SeriesKey: spec.Key,
		Candle: domain.Candle{
			Time:   barTime,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  cls,
			Volume: vol,
		},
	}, nil
}

type okxFundingData struct {
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
	Ts              string `json:"ts"`
}

func (a *Adapter) parseFundingRate(arg okxArg, raw json.RawMessage) (collector.Frame, error) {
	var ev okxFundingData
	if err := json.Unmarshal(raw, &ev); err != nil {
		return collector.Frame{}, fmt.Errorf("okx: funding rate: %w", err)
	}
	spec, ok := a.lookupMarket(arg.InstID)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	rate, err := money.FromString(ev.FundingRate)
	if err != nil {
		return collector.Frame{}, fmt.Errorf("okx: funding rate decimal: %w", err)
	}

	var next *time.Time
	if ms, err := decimal.NewFromString(ev.NextFundingTime); err == nil && ms.IntPart() > 0 {
		t := time.UnixMilli(ms.IntPart()).UTC()
		next = &t
	}

	evTime := time.Now().UTC()
	if ms, err := decimal.NewFromString(ev.Ts); err == nil {
		evTime = time.UnixMilli(ms.IntPart()).UTC()
	}

	return collector.Frame{
		Kind:         collector.FrameFunding,
		MarketKey:    spec.Key,
		ExchangeTime: evTime,
		Funding: aggregator.FundingTick{
			FundingRate:     rate,
			NextFundingTime: next,
		},
	}, nil
}

type okxOIData struct {
	OI    string `json:"oi"`
	OiCcy string `json:"oiCcy"`
	Ts    string `json:"ts"`
}

func (a *Adapter) parseOpenInterest(arg okxArg, raw json.RawMessage) (collector.Frame, error) {
	var ev okxOIData
	if err := json.Unmarshal(raw, &ev); err != nil {
		return collector.Frame{}, fmt.Errorf("okx: open interest: %w", err)
	}
	spec, ok := a.lookupMarket(arg.InstID)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	oi, err := money.FromString(ev.OI)
	if err != nil {
		return collector.Frame{}, fmt.Errorf("okx: open interest decimal: %w", err)
	}
	notional, _ := money.FromString(ev.OiCcy)

	evTime := time.Now().UTC()
	if ms, err := decimal.NewFromString(ev.Ts); err == nil {
		evTime = time.UnixMilli(ms.IntPart()).UTC()
	}

	return collector.Frame{
		Kind:         collector.FrameOpenInterest,
		MarketKey:    spec.Key,
		ExchangeTime: evTime,
		OpenInterest: aggregator.OpenInterestTick{
			OpenInterest:  oi,
			NotionalValue: notional,
		},
	}, nil
}

func (a *Adapter) lookupSeries(instID string) (SeriesSpec, bool) {
	for _, s := range a.series {
		if s.InstID == instID {
			return s, true
		}
	}
	return SeriesSpec{}, false
}

func (a *Adapter) lookupMarket(instID string) (MarketSpec, bool) {
	for _, m := range a.markets {
		if m.InstID == instID {
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

// Package coinbase implements a collector.Adapter for Coinbase's Advanced
// Trade WebSocket candles channel. Coinbase is spot-only in this universe
// (§3 market types), so this adapter never emits funding or open-interest
// frames.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptopulse/internal/collector"
	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
)

// SeriesSpec is one configured candle stream. Coinbase's public candles
// channel only emits 1-minute bars; longer intervals are derived by the
// collector's bar-alignment step from the same 1m stream.
type SeriesSpec struct {
	Key           domain.SeriesKey
	ProductID     string // e.g. "BTC-USD"
	SecondsPerBar int32
}

// Adapter implements collector.Adapter for Coinbase.
type Adapter struct {
	cfg    config.ExchangeConfig
	series []SeriesSpec
}

// New builds a Coinbase Adapter.
func New(cfg config.ExchangeConfig, series []SeriesSpec) *Adapter {
	return &Adapter{cfg: cfg, series: series}
}

func (a *Adapter) Name() string { return "coinbase" }

func (a *Adapter) Dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.WSBaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coinbase: dial: %w", err)
	}
	return conn, nil
}

func (a *Adapter) SubscriptionFrames() ([][]byte, error) {
	productIDs := make([]string, 0, len(a.series))
	for _, s := range a.series {
		productIDs = append(productIDs, s.ProductID)
	}
	data, err := json.Marshal(map[string]interface{}{
		"type":        "subscribe",
		"product_ids": productIDs,
		"channel":     "candles",
	})
	if err != nil {
		return nil, fmt.Errorf("coinbase: marshal subscribe: %w", err)
	}
	return [][]byte{data}, nil
}

func (a *Adapter) AckTimeout() time.Duration { return 5 * time.Second }

func (a *Adapter) IsAck(data []byte) bool {
	var ack struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return false
	}
	return ack.Channel == "subscriptions"
}

type coinbaseCandleEvent struct {
	Start     string `json:"start"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	ProductID string `json:"product_id"`
}

type coinbaseEnvelope struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string                `json:"type"`
		Candles []coinbaseCandleEvent `json:"candles"`
	} `json:"events"`
}

func (a *Adapter) ParseFrame(data []byte) (collector.Frame, error) {
	var env coinbaseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return collector.Frame{}, fmt.Errorf("coinbase: envelope: %w", err)
	}
	if env.Channel != "candles" {
		return collector.Frame{Kind: collector.FrameHeartbeat}, nil
	}
	for _, event := range env.Events {
		for _, c := range event.Candles {
			return a.parseCandle(c)
		}
	}
	return collector.Frame{Kind: collector.FrameUnknown}, nil
}

func (a *Adapter) parseCandle(ev coinbaseCandleEvent) (collector.Frame, error) {
	spec, ok := a.lookupSeries(ev.ProductID)
	if !ok {
		return collector.Frame{Kind: collector.FrameUnknown}, nil
	}

	startUnix, err := decimal.NewFromString(ev.Start)
	if err != nil {
		return collector.Frame{}, fmt.Errorf("coinbase: start: %w", err)
	}
	open, err1 := decimal.NewFromString(ev.Open)
	high, err2 := decimal.NewFromString(ev.High)
	low, err3 := decimal.NewFromString(ev.Low)
	cls, err4 := decimal.NewFromString(ev.Close)
	vol, err5 := decimal.NewFromString(ev.Volume)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return collector.Frame{}, fmt.Errorf("coinbase: candle decimals: %w", err)
	}

	startTime := time.Unix(startUnix.IntPart(), 0).UTC()
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

func (a *Adapter) lookupSeries(productID string) (SeriesSpec, bool) {
	for _, s := range a.series {
		if s.ProductID == productID {
			return s, true
		}
	}
	return SeriesSpec{}, false
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

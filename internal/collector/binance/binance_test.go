package binance

import (
	"testing"

	"github.com/sawpanic/cryptopulse/internal/collector"
	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
)

func testAdapter() *Adapter {
	key := domain.SeriesKey{
		MarketKey: domain.MarketKey{Exchange: "binance", Coin: "BTC", Quote: "USD", MarketType: "spot"},
		Interval:  "1m",
	}
	return New(config.ExchangeConfig{WSBaseURL: "wss://stream.binance.com:9443"},
		[]SeriesSpec{{Key: key, Symbol: "btcusdt", Interval: "1m", SecondsPerBar: 60}},
		nil,
	)
}

func TestParseFrame_Kline(t *testing.T) {
	a := testAdapter()
	raw := []byte(`{"stream":"btcusdt@kline_1m","data":{"E":1690000000000,"k":{"t":1689999960000,"s":"btcusdt","i":"1m","o":"67000.00","h":"67100.00","l":"66900.00","c":"67050.00","v":"12.5","n":42,"x":true}}}`)

	frame, err := a.ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Kind != collector.FrameCandle {
		t.Fatalf("expected FrameCandle, got %v", frame.Kind)
	}
	if frame.Candle.Close.String() != "67050" {
		t.Errorf("unexpected close: %s", frame.Candle.Close)
	}
	if !frame.Candle.Time.Equal(domain.AlignToMinute(frame.Candle.Time)) {
		t.Errorf("candle time not minute-aligned: %v", frame.Candle.Time)
	}
}

func TestParseFrame_UnconfiguredSymbolIsUnknown(t *testing.T) {
	a := testAdapter()
	raw := []byte(`{"stream":"ethusdt@kline_1m","data":{"E":1,"k":{"t":1,"s":"ethusdt","i":"1m","o":"1","h":"1","l":"1","c":"1","v":"1","n":1,"x":false}}}`)

	frame, err := a.ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Kind != collector.FrameUnknown {
		t.Errorf("expected FrameUnknown for unconfigured symbol, got %v", frame.Kind)
	}
}

func TestParseFrame_MarkPrice(t *testing.T) {
	key := domain.MarketKey{Exchange: "binance", Coin: "BTC", Quote: "USD", MarketType: "perpetual"}
	a := New(config.ExchangeConfig{WSBaseURL: "wss://stream.binance.com:9443"}, nil,
		[]MarketSpec{{Key: key, Symbol: "btcusdt"}},
	)
	raw := []byte(`{"stream":"btcusdt@markPrice","data":{"E":1690000000000,"s":"btcusdt","p":"67500.00","i":"67498.00","r":"0.0001","T":1690003600000}}`)

	frame, err := a.ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Kind != collector.FrameFunding {
		t.Fatalf("expected FrameFunding, got %v", frame.Kind)
	}
	if !frame.Funding.FundingRate.Valid || frame.Funding.FundingRate.Value.String() != "0.0001" {
		t.Errorf("unexpected funding rate: %+v", frame.Funding.FundingRate)
	}
	if frame.Funding.NextFundingTime == nil {
		t.Error("expected next funding time to be set")
	}
}

func TestIsAck(t *testing.T) {
	a := testAdapter()
	if !a.IsAck([]byte(`{"result":null,"id":1}`)) {
		t.Error("expected ack frame to be recognized")
	}
	if a.IsAck([]byte(`{"stream":"btcusdt@kline_1m","data":{}}`)) {
		t.Error("data frame should not be recognized as ack")
	}
}

package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sawpanic/cryptopulse/internal/backfill"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/httpclient"
)

// CoinbaseSource implements backfill.Source over Coinbase's public candles
// REST endpoint. Coinbase is spot-only in this universe, so FetchFunding
// always returns an error.
type CoinbaseSource struct {
	client *resty.Client
}

func NewCoinbaseSource(baseURL string, wrapper *httpclient.Wrapper) *CoinbaseSource {
	c := resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second)
	if wrapper != nil {
		c.SetTransport(wrapper)
	}
	return &CoinbaseSource{client: c}
}

func (s *CoinbaseSource) Exchange() string { return "coinbase" }

type coinbaseCandleRow [6]float64 // [time, low, high, open, close, volume]

func (s *CoinbaseSource) FetchCandles(ctx context.Context, key domain.SeriesKey, end time.Time, limit int) (backfill.CandleChunk, error) {
	productID := key.Coin + "-" + key.Quote
	granularity := secondsPerBarName(key.Interval)

	var rows []coinbaseCandleRow
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"end":         end.UTC().Format(time.RFC3339),
			"granularity": fmt.Sprintf("%d", granularity),
		}).
		SetResult(&rows).
		Get(fmt.Sprintf("/products/%s/candles", productID))
	if err != nil {
		return backfill.CandleChunk{}, fmt.Errorf("coinbase: fetch candles: %w", err)
	}
	if resp.IsError() {
		return backfill.CandleChunk{}, fmt.Errorf("coinbase: candles status %d", resp.StatusCode())
	}

	chunk := backfill.CandleChunk{Rows: make([]domain.Candle, 0, len(rows)), HasMore: len(rows) >= limit}
	for _, r := range rows {
		t := domain.AlignToMinute(time.Unix(int64(r[0]), 0))
		c := domain.Candle{
			Time:   t,
			Low:    decimalFromFloat(r[1]),
			High:   decimalFromFloat(r[2]),
			Open:   decimalFromFloat(r[3]),
			Close:  decimalFromFloat(r[4]),
			Volume: decimalFromFloat(r[5]),
		}
		chunk.Rows = append(chunk.Rows, c)
		if chunk.Oldest.IsZero() || t.Before(chunk.Oldest) {
			chunk.Oldest = t
		}
	}
	return chunk, nil
}

// FetchFunding always fails: Coinbase Advanced Trade has no derivatives
// market in this universe.
func (s *CoinbaseSource) FetchFunding(ctx context.Context, key domain.MarketKey, end time.Time, limit int) (backfill.FundingChunk, error) {
	return backfill.FundingChunk{}, fmt.Errorf("coinbase: no funding history for spot market %s: %w", key, errors.New("not supported"))
}

func secondsPerBarName(interval string) int {
	switch interval {
	case "1m":
		return 60
	case "5m":
		return 300
	case "15m":
		return 900
	case "1h":
		return 3600
	case "1d":
		return 86400
	default:
		return 60
	}
}

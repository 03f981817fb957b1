package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptopulse/internal/backfill"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/httpclient"
)

// KrakenSource implements backfill.Source over Kraken's public OHLC REST
// endpoint. Kraken spot has no funding history; FetchFunding always fails.
type KrakenSource struct {
	client *resty.Client
}

func NewKrakenSource(baseURL string, wrapper *httpclient.Wrapper) *KrakenSource {
	c := resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second)
	if wrapper != nil {
		c.SetTransport(wrapper)
	}
	return &KrakenSource{client: c}
}

func (s *KrakenSource) Exchange() string { return "kraken" }

type krakenOHLCEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string][][]interface{} `json:"result"`
}

func (s *KrakenSource) FetchCandles(ctx context.Context, key domain.SeriesKey, end time.Time, limit int) (backfill.CandleChunk, error) {
	pair := key.Coin + key.Quote
	var env krakenOHLCEnvelope
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"pair":     pair,
			"interval": fmt.Sprintf("%d", intervalMinutes(key.Interval)),
			"since":    fmt.Sprintf("%d", end.Add(-time.Duration(limit)*intervalDuration(key.Interval)).Unix()),
		}).
		SetResult(&env).
		Get("/0/public/OHLC")
	if err != nil {
		return backfill.CandleChunk{}, fmt.Errorf("kraken: fetch ohlc: %w", err)
	}
	if resp.IsError() || len(env.Error) > 0 {
		return backfill.CandleChunk{}, fmt.Errorf("kraken: ohlc error %v", env.Error)
	}

	var raw [][]interface{}
	for _, v := range env.Result {
		raw = v
		break
	}

	chunk := backfill.CandleChunk{Rows: make([]domain.Candle, 0, len(raw)), HasMore: len(raw) >= limit}
	for _, row := range raw {
		c, err := parseKrakenOHLCRow(row)
		if err != nil {
			continue
		}
		if c.Time.After(end) {
			continue
		}
		chunk.Rows = append(chunk.Rows, c)
		if chunk.Oldest.IsZero() || c.Time.Before(chunk.Oldest) {
			chunk.Oldest = c.Time
		}
	}
	return chunk, nil
}

func parseKrakenOHLCRow(row []interface{}) (domain.Candle, error) {
	if len(row) < 7 {
		return domain.Candle{}, fmt.Errorf("kraken: short ohlc row")
	}
	tsFloat, ok := row[0].(float64)
	if !ok {
		return domain.Candle{}, fmt.Errorf("kraken: unexpected time type")
	}
	o, err1 := decimal.NewFromString(fmt.Sprint(row[1]))
	h, err2 := decimal.NewFromString(fmt.Sprint(row[2]))
	l, err3 := decimal.NewFromString(fmt.Sprint(row[3]))
	c, err4 := decimal.NewFromString(fmt.Sprint(row[4]))
	v, err5 := decimal.NewFromString(fmt.Sprint(row[6]))
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return domain.Candle{}, err
	}
	return domain.Candle{
		Time:   domain.AlignToMinute(time.Unix(int64(tsFloat), 0)),
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: v,
	}, nil
}

// FetchFunding always fails: Kraken spot has no derivatives funding rate.
func (s *KrakenSource) FetchFunding(ctx context.Context, key domain.MarketKey, end time.Time, limit int) (backfill.FundingChunk, error) {
	return backfill.FundingChunk{}, fmt.Errorf("kraken: no funding history for market %s: %w", key, errors.New("not supported"))
}

func intervalMinutes(interval string) int {
	switch interval {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "1h":
		return 60
	case "1d":
		return 1440
	default:
		return 1
	}
}

func intervalDuration(interval string) time.Duration {
	return time.Duration(intervalMinutes(interval)) * time.Minute
}

package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptopulse/internal/backfill"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/httpclient"
	"github.com/sawpanic/cryptopulse/internal/money"
)

// OKXSource implements backfill.Source over OKX's candles and
// funding-rate-history REST endpoints.
type OKXSource struct {
	client *resty.Client
}

func NewOKXSource(baseURL string, wrapper *httpclient.Wrapper) *OKXSource {
	c := resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second)
	if wrapper != nil {
		c.SetTransport(wrapper)
	}
	return &OKXSource{client: c}
}

func (s *OKXSource) Exchange() string { return "okx" }

func instID(key domain.MarketKey) string {
	switch key.MarketType {
	case "perpetual":
		return key.Coin + "-" + key.Quote + "-SWAP"
	default:
		return key.Coin + "-" + key.Quote
	}
}

type okxEnvelope struct {
	Code string     `json:"code"`
	Data [][]string `json:"data"`
}

func (s *OKXSource) FetchCandles(ctx context.Context, key domain.SeriesKey, end time.Time, limit int) (backfill.CandleChunk, error) {
	var env okxEnvelope
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"instId": instID(key.MarketKey),
			"bar":    key.Interval,
			"after":  fmt.Sprintf("%d", end.UnixMilli()),
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&env).
		Get("/api/v5/market/history-candles")
	if err != nil {
		return backfill.CandleChunk{}, fmt.Errorf("okx: fetch candles: %w", err)
	}
	if resp.IsError() {
		return backfill.CandleChunk{}, fmt.Errorf("okx: candles status %d", resp.StatusCode())
	}

	chunk := backfill.CandleChunk{Rows: make([]domain.Candle, 0, len(env.Data)), HasMore: len(env.Data) >= limit}
	for _, row := range env.Data {
		c, err := parseOKXCandleRow(row)
		if err != nil {
			continue
		}
		chunk.Rows = append(chunk.Rows, c)
		if chunk.Oldest.IsZero() || c.Time.Before(chunk.Oldest) {
			chunk.Oldest = c.Time
		}
	}
	return chunk, nil
}

func parseOKXCandleRow(row []string) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("okx: short candle row")
	}
	tsMS, err0 := decimal.NewFromString(row[0])
	o, err1 := decimal.NewFromString(row[1])
	h, err2 := decimal.NewFromString(row[2])
	l, err3 := decimal.NewFromString(row[3])
	c, err4 := decimal.NewFromString(row[4])
	v, err5 := decimal.NewFromString(row[5])
	if err := firstErr(err0, err1, err2, err3, err4, err5); err != nil {
		return domain.Candle{}, err
	}
	return domain.Candle{
		Time:   domain.AlignToMinute(time.UnixMilli(tsMS.IntPart())),
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: v,
	}, nil
}

type okxFundingHistEnvelope struct {
	Code string `json:"code"`
	Data []struct {
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
	} `json:"data"`
}

func (s *OKXSource) FetchFunding(ctx context.Context, key domain.MarketKey, end time.Time, limit int) (backfill.FundingChunk, error) {
	var env okxFundingHistEnvelope
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"instId": instID(key),
			"before": fmt.Sprintf("%d", end.UnixMilli()),
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&env).
		Get("/api/v5/public/funding-rate-history")
	if err != nil {
		return backfill.FundingChunk{}, fmt.Errorf("okx: fetch funding history: %w", err)
	}
	if resp.IsError() {
		return backfill.FundingChunk{}, fmt.Errorf("okx: funding history status %d", resp.StatusCode())
	}

	chunk := backfill.FundingChunk{Rows: make([]domain.FundingPoint, 0, len(env.Data)), HasMore: len(env.Data) >= limit}
	for _, row := range env.Data {
		rate, errR := money.FromString(row.FundingRate)
		tsMS, errT := decimal.NewFromString(row.FundingTime)
		if errR != nil || errT != nil {
			continue
		}
		t := domain.AlignToMinute(time.UnixMilli(tsMS.IntPart()))
		chunk.Rows = append(chunk.Rows, domain.FundingPoint{Time: t, FundingRate: rate})
		if chunk.Oldest.IsZero() || t.Before(chunk.Oldest) {
			chunk.Oldest = t
		}
	}
	return chunk, nil
}

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/backfill"
	"github.com/sawpanic/cryptopulse/internal/backfill/sources"
	"github.com/sawpanic/cryptopulse/internal/circuit"
	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/httpclient"
	"github.com/sawpanic/cryptopulse/internal/ratelimit"
	"github.com/sawpanic/cryptopulse/internal/reference"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Walk backwards from a time horizon filling historical candles and funding",
		RunE:  runBackfill,
	}
	cmd.Flags().String("exchange", "", "restrict to one exchange (default: all enabled)")
	cmd.Flags().String("coin", "", "restrict to one base asset (default: all)")
	cmd.Flags().Int("days", 30, "how many days back from now to backfill")
	cmd.Flags().Int("chunk-size", 1000, "rows requested per historical REST page")
	cmd.Flags().StringSlice("kinds", []string{"candles", "funding"}, "which kinds to backfill: candles, funding, open_interest")
	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	universe, err := loadUniverse(cmd)
	if err != nil {
		return err
	}

	gw, err := openGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer gw.Close()

	resolver, err := openResolver(ctx, gw)
	if err != nil {
		return err
	}

	exchange, _ := cmd.Flags().GetString("exchange")
	coin, _ := cmd.Flags().GetString("coin")
	days, _ := cmd.Flags().GetInt("days")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	kinds, _ := cmd.Flags().GetStringSlice("kinds")

	sel := backfill.Selection{Exchange: exchange, Coin: coin, All: exchange == "" && coin == ""}
	horizon := backfill.Horizon{Days: days}

	srcs := buildSources(universe)
	engine := backfill.New(gw, resolver, srcs, chunkSize)

	seriesKeys, marketKeys := buildKeyMaps(universe, resolver)

	for _, kind := range kinds {
		switch backfill.Kind(kind) {
		case backfill.KindCandles:
			results := engine.RunCandles(ctx, sel, horizon, seriesKeys)
			logCandleResults(results)
		case backfill.KindFunding:
			results := engine.RunFunding(ctx, sel, horizon, marketKeys)
			logMarketResults("funding", results)
		case backfill.KindOpenInterest:
			results := engine.RunOpenInterest(ctx, sel, horizon, marketKeys)
			logMarketResults("open_interest", results)
		default:
			log.Warn().Str("kind", kind).Msg("backfill: unrecognized kind, skipping")
		}
	}
	return nil
}

// buildSources constructs one REST Source per enabled exchange that has a
// sources.* implementation, each wrapped in the same rate-limit/circuit
// policy the live collector uses so a backfill run can't starve real-time
// traffic on a shared connection budget.
func buildSources(universe *config.UniverseConfig) map[string]backfill.Source {
	out := make(map[string]backfill.Source)
	for _, ex := range universe.Exchanges {
		if !ex.Enabled || ex.RESTBaseURL == "" {
			continue
		}
		limiter := ratelimit.NewLimiter(ex.RateLimit.RPS, ex.RateLimit.Burst)
		breaker := circuit.NewBreaker(ex.Name+"-backfill", circuit.Config{
			FailureThreshold: ex.Circuit.FailureThreshold,
			SuccessThreshold: ex.Circuit.SuccessThreshold,
			Timeout:          ex.Circuit.GetTimeout(),
			RequestTimeout:   ex.Circuit.GetRequestTimeout(),
		})
		wrapper := httpclient.NewWrapper(limiter, breaker, nil)

		switch ex.Name {
		case "binance":
			out[ex.Name] = sources.NewBinanceSource(ex.RESTBaseURL, wrapper)
		case "okx":
			out[ex.Name] = sources.NewOKXSource(ex.RESTBaseURL, wrapper)
		case "coinbase":
			out[ex.Name] = sources.NewCoinbaseSource(ex.RESTBaseURL, wrapper)
		case "kraken":
			out[ex.Name] = sources.NewKrakenSource(ex.RESTBaseURL, wrapper)
		default:
			log.Warn().Str("exchange", ex.Name).Msg("backfill: no historical source implementation, skipping")
		}
	}
	return out
}

// buildKeyMaps rebuilds the declarative base/quote/market-type/interval
// cross product (same shape run-collectors derives its adapters from) and
// resolves each key against the live reference snapshot, so the engine
// only ever sees ids the database actually knows about.
func buildKeyMaps(universe *config.UniverseConfig, resolver *reference.Resolver) (map[domain.SeriesID]domain.SeriesKey, map[domain.MarketID]domain.MarketKey) {
	seriesKeys := make(map[domain.SeriesID]domain.SeriesKey)
	marketKeys := make(map[domain.MarketID]domain.MarketKey)

	for _, ex := range universe.Exchanges {
		if !ex.Enabled {
			continue
		}
		for _, base := range universe.Assets.Base {
			for _, quote := range ex.Quotes {
				for _, mt := range ex.MarketTypes {
					mk := domain.MarketKey{Exchange: ex.Name, Coin: base, Quote: quote, MarketType: mt}
					if marketID, err := resolver.ResolveMarket(mk); err == nil {
						marketKeys[marketID] = mk
					}
					for _, iv := range universe.Intervals {
						sk := domain.SeriesKey{MarketKey: mk, Interval: iv.Name}
						if seriesID, err := resolver.ResolveSeries(sk); err == nil {
							seriesKeys[seriesID] = sk
						}
					}
				}
			}
		}
	}
	return seriesKeys, marketKeys
}

func logCandleResults(results map[domain.SeriesID]backfill.Result) {
	total := 0
	for seriesID, res := range results {
		if res.Err != nil {
			log.Error().Int64("series_id", int64(seriesID)).Err(res.Err).Msg("backfill: candle run failed")
			continue
		}
		total += res.RowsWritten
		log.Info().Int64("series_id", int64(seriesID)).Int("rows", res.RowsWritten).Msg("backfill: candles written")
	}
	log.Info().Int("total_rows", total).Int("series", len(results)).Msg("backfill: candle run complete")
}

func logMarketResults(label string, results map[domain.MarketID]backfill.Result) {
	total := 0
	for marketID, res := range results {
		if res.Err != nil {
			log.Error().Int64("market_id", int64(marketID)).Err(res.Err).Msg(fmt.Sprintf("backfill: %s run failed", label))
			continue
		}
		total += res.RowsWritten
		log.Info().Int64("market_id", int64(marketID)).Int("rows", res.RowsWritten).Msg(fmt.Sprintf("backfill: %s written", label))
	}
	log.Info().Int("total_rows", total).Int("markets", len(results)).Msg(fmt.Sprintf("backfill: %s run complete", label))
}

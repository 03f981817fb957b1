package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/aggregator"
	"github.com/sawpanic/cryptopulse/internal/collector"
	"github.com/sawpanic/cryptopulse/internal/collector/binance"
	"github.com/sawpanic/cryptopulse/internal/collector/coinbase"
	"github.com/sawpanic/cryptopulse/internal/collector/kraken"
	"github.com/sawpanic/cryptopulse/internal/collector/okx"
	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

func newRunCollectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-collectors",
		Short: "Run every enabled exchange's live WebSocket collector",
		RunE:  runRunCollectors,
	}
}

func runRunCollectors(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	agg := aggregator.New(gw)
	go agg.Run(ctx)

	machines := buildMachines(universe, gw, resolver, agg)
	if len(machines) == 0 {
		log.Warn().Msg("run-collectors: no enabled exchanges produced a collector")
	}

	sup := collector.NewSupervisor(machines...)
	sup.Run(ctx, 15*time.Second)
	return nil
}

// buildMachines turns the declarative universe config into one Machine
// per enabled exchange, each driven by that exchange's Adapter built from
// the base/quote/market-type/interval cross product.
func buildMachines(universe *config.UniverseConfig, gw storage.Gateway, resolver *reference.Resolver, agg *aggregator.Aggregator) []*collector.Machine {
	var machines []*collector.Machine
	for _, ex := range universe.Exchanges {
		if !ex.Enabled {
			continue
		}
		adapter := buildAdapter(ex, universe)
		if adapter == nil {
			log.Warn().Str("exchange", ex.Name).Msg("run-collectors: no adapter for exchange")
			continue
		}
		machines = append(machines, collector.New(adapter, gw, resolver, agg, ex.Backoff))
	}
	return machines
}

func buildAdapter(ex config.ExchangeConfig, universe *config.UniverseConfig) collector.Adapter {
	switch ex.Name {
	case "binance":
		series, markets := binanceSpecs(ex, universe)
		return binance.New(ex, series, markets)
	case "okx":
		series, markets := okxSpecs(ex, universe)
		return okx.New(ex, series, markets)
	case "coinbase":
		series := coinbaseSpecs(ex, universe)
		return coinbase.New(ex, series)
	case "kraken":
		series, markets := krakenSpecs(ex, universe)
		return kraken.New(ex, series, markets)
	default:
		return nil
	}
}

func supportsMarketType(ex config.ExchangeConfig, marketType string) bool {
	for _, mt := range ex.MarketTypes {
		if mt == marketType {
			return true
		}
	}
	return false
}

func binanceSpecs(ex config.ExchangeConfig, universe *config.UniverseConfig) ([]binance.SeriesSpec, []binance.MarketSpec) {
	var series []binance.SeriesSpec
	var markets []binance.MarketSpec
	for _, base := range universe.Assets.Base {
		for _, quote := range ex.Quotes {
			wireQuote := ex.NormalizeQuote(quote)
			symbol := strings.ToLower(base + wireQuote)
			for _, mt := range ex.MarketTypes {
				marketKey := domain.MarketKey{Exchange: ex.Name, Coin: base, Quote: quote, MarketType: mt}
				if mt == "perpetual" {
					markets = append(markets, binance.MarketSpec{Key: marketKey, Symbol: symbol})
				}
				for _, iv := range universe.Intervals {
					series = append(series, binance.SeriesSpec{
						Key:           domain.SeriesKey{MarketKey: marketKey, Interval: iv.Name},
						Symbol:        symbol,
						Interval:      iv.Name,
						SecondsPerBar: iv.SecondsPerBar,
					})
				}
			}
		}
	}
	return series, markets
}

func okxSpecs(ex config.ExchangeConfig, universe *config.UniverseConfig) ([]okx.SeriesSpec, []okx.MarketSpec) {
	var series []okx.SeriesSpec
	var markets []okx.MarketSpec
	for _, base := range universe.Assets.Base {
		for _, quote := range ex.Quotes {
			wireQuote := ex.NormalizeQuote(quote)
			for _, mt := range ex.MarketTypes {
				marketKey := domain.MarketKey{Exchange: ex.Name, Coin: base, Quote: quote, MarketType: mt}
				instID := base + "-" + wireQuote
				if mt == "perpetual" {
					instID = base + "-" + wireQuote + "-SWAP"
					markets = append(markets, okx.MarketSpec{Key: marketKey, InstID: instID})
				}
				for _, iv := range universe.Intervals {
					series = append(series, okx.SeriesSpec{
						Key:           domain.SeriesKey{MarketKey: marketKey, Interval: iv.Name},
						InstID:        instID,
						Bar:           okxBarName(iv.Name),
						SecondsPerBar: iv.SecondsPerBar,
					})
				}
			}
		}
	}
	return series, markets
}

func okxBarName(interval string) string {
	switch interval {
	case "1h":
		return "1H"
	case "1d":
		return "1D"
	default:
		return interval
	}
}

func coinbaseSpecs(ex config.ExchangeConfig, universe *config.UniverseConfig) []coinbase.SeriesSpec {
	var series []coinbase.SeriesSpec
	if !supportsMarketType(ex, "spot") {
		return series
	}
	for _, base := range universe.Assets.Base {
		for _, quote := range ex.Quotes {
			wireQuote := ex.NormalizeQuote(quote)
			marketKey := domain.MarketKey{Exchange: ex.Name, Coin: base, Quote: quote, MarketType: "spot"}
			productID := base + "-" + wireQuote
			for _, iv := range universe.Intervals {
				series = append(series, coinbase.SeriesSpec{
					Key:           domain.SeriesKey{MarketKey: marketKey, Interval: iv.Name},
					ProductID:     productID,
					SecondsPerBar: iv.SecondsPerBar,
				})
			}
		}
	}
	return series
}

func krakenSpecs(ex config.ExchangeConfig, universe *config.UniverseConfig) ([]kraken.SeriesSpec, []kraken.MarketSpec) {
	var series []kraken.SeriesSpec
	var markets []kraken.MarketSpec
	for _, base := range universe.Assets.Base {
		for _, quote := range ex.Quotes {
			wireQuote := ex.NormalizeQuote(quote)
			symbol := base + "/" + wireQuote
			for _, mt := range ex.MarketTypes {
				marketKey := domain.MarketKey{Exchange: ex.Name, Coin: base, Quote: quote, MarketType: mt}
				if mt == "perpetual" {
					markets = append(markets, kraken.MarketSpec{Key: marketKey, Symbol: symbol})
				}
				for _, iv := range universe.Intervals {
					series = append(series, kraken.SeriesSpec{
						Key:           domain.SeriesKey{MarketKey: marketKey, Interval: iv.Name},
						Symbol:        symbol,
						IntervalMin:   krakenIntervalMinutes(iv.SecondsPerBar),
						SecondsPerBar: iv.SecondsPerBar,
					})
				}
			}
		}
	}
	return series, markets
}

func krakenIntervalMinutes(secondsPerBar int32) int {
	m := int(secondsPerBar / 60)
	if m <= 0 {
		m = 1
	}
	return m
}

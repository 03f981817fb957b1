package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/backfill"
	"github.com/sawpanic/cryptopulse/internal/rediscache"
)

func newDowntimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downtime",
		Short: "Scan for series/markets whose latest row is stale",
		RunE:  runDowntime,
	}
	cmd.Flags().Duration("threshold", 5*time.Minute, "staleness threshold before a gap is reported")
	return cmd
}

func runDowntime(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	gw, err := openGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer gw.Close()

	resolver, err := openResolver(ctx, gw)
	if err != nil {
		return err
	}

	threshold, _ := cmd.Flags().GetDuration("threshold")

	var cache backfill.HotCache
	redisURL, _ := cmd.Flags().GetString("redis")
	if redisURL != "" {
		c, err := rediscache.Open(ctx, redisURL, rediscache.DefaultTTL)
		if err != nil {
			log.Warn().Err(err).Msg("downtime: redis unavailable, falling back to direct gateway reads")
		} else {
			defer c.Close()
			cache = c
		}
	}

	detector := backfill.NewDowntimeDetector(gw, cache, threshold)

	seriesGaps, err := detector.ScanSeries(ctx, resolver.ActiveSeries())
	if err != nil {
		return err
	}
	marketGaps, err := detector.ScanMarkets(ctx, resolver.ActiveMarkets())
	if err != nil {
		return err
	}

	for _, g := range seriesGaps {
		log.Warn().Str("kind", string(g.Kind)).Int64("key", g.Key).Dur("age", g.Age).Msg("downtime: candle gap detected")
	}
	for _, g := range marketGaps {
		log.Warn().Str("kind", string(g.Kind)).Int64("key", g.Key).Dur("age", g.Age).Msg("downtime: funding gap detected")
	}
	log.Info().Int("series_gaps", len(seriesGaps)).Int("market_gaps", len(marketGaps)).Msg("downtime: scan complete")
	return nil
}

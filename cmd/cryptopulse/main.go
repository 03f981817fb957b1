package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "cryptopulse"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Crypto market data ingestion, storage, and real-time fan-out",
		Version: version,
		Long: `cryptopulse ingests candle, funding, and open-interest data from
multiple exchanges over WebSocket, persists it in Postgres, and serves it
over a read-only REST API and a subscription-based WebSocket feed.`,
	}

	rootCmd.PersistentFlags().String("config", "config/universe.yaml", "path to the universe configuration file")
	rootCmd.PersistentFlags().String("dsn", os.Getenv("CRYPTOPULSE_DSN"), "Postgres connection string")
	rootCmd.PersistentFlags().String("redis", os.Getenv("CRYPTOPULSE_REDIS_URL"), "Redis connection URL for the hot cache")

	rootCmd.AddCommand(newServeAPICmd())
	rootCmd.AddCommand(newRunCollectorsCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newDowntimeCmd())
	rootCmd.AddCommand(newSyncConfigCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("cryptopulse: fatal")
	}
}

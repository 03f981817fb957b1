package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/reference"
)

func newSyncConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-config",
		Short: "Upsert the declarative universe config into the reference tables",
		RunE:  runSyncConfig,
	}
}

func runSyncConfig(cmd *cobra.Command, args []string) error {
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

	markets, series, err := reference.Sync(ctx, gw.DB(), universe)
	if err != nil {
		return err
	}
	log.Info().Int("markets", markets).Int("series", series).Msg("sync-config: reference tables synced")
	return nil
}

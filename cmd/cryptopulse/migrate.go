package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	gw, err := openGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer gw.Close()

	applied, err := migrate.Apply(ctx, gw.DB())
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info().Msg("migrate: already up to date")
		return nil
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("migrate: applied")
	}
	return nil
}

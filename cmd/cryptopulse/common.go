package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/config"
	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/storage/postgres"
)

func loadUniverse(cmd *cobra.Command) (*config.UniverseConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func openGateway(ctx context.Context, cmd *cobra.Command) (*postgres.Gateway, error) {
	dsn, err := cmd.Flags().GetString("dsn")
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("cryptopulse: --dsn (or CRYPTOPULSE_DSN) is required")
	}
	return postgres.Open(ctx, postgres.PoolConfig{DatabaseURL: dsn})
}

func openResolver(ctx context.Context, gw *postgres.Gateway) (*reference.Resolver, error) {
	r := reference.New(gw.DB())
	if err := r.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("cryptopulse: reference resolver refresh: %w", err)
	}
	return r, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptopulse/internal/notify"
	"github.com/sawpanic/cryptopulse/internal/obsmetrics"
	"github.com/sawpanic/cryptopulse/internal/registry"
	"github.com/sawpanic/cryptopulse/internal/restapi"
	"github.com/sawpanic/cryptopulse/internal/wsapi"
)

func newServeAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-api",
		Short: "Serve the read-only REST API and the /ws subscription feed",
		RunE:  runServeAPI,
	}
	cmd.Flags().Int("port", 8090, "REST/WS listen port")
	cmd.Flags().Int("metrics-port", 9090, "Prometheus metrics listen port")
	return cmd
}

func runServeAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := openGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer gw.Close()

	resolver, err := openResolver(ctx, gw)
	if err != nil {
		return err
	}

	metrics := obsmetrics.New()

	reg := registry.New(registry.DefaultMaxConnections, registry.DefaultMaxKeysPerConn, 16)
	go reg.Heartbeat(ctx, registry.DefaultHeartbeatInterval)

	dsn, _ := cmd.Flags().GetString("dsn")
	rowReader := &gatewayRowReader{gw: gw}
	listener, err := notify.NewFromDSN(dsn, 10*time.Second, time.Minute, rowReader, &registryBroadcaster{reg: reg})
	if err != nil {
		return err
	}
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("serve-api: notify listener stopped")
		}
	}()

	port, _ := cmd.Flags().GetInt("port")
	apiCfg := restapi.DefaultConfig()
	apiCfg.Port = port
	api := restapi.New(apiCfg, gw, resolver, nil, func(pingCtx context.Context) error {
		return gw.DB().PingContext(pingCtx)
	})
	api.Router().Handle("/ws", wsapi.NewHandler(reg, resolver, gw))

	metricsPort, _ := cmd.Flags().GetInt("metrics-port")
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve-api: metrics server stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- api.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("serve-api: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = api.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}


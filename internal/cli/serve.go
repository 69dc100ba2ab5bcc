package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipscout/internal/metrics"
	"github.com/forPelevin/clipscout/internal/pipeline"
	"github.com/forPelevin/clipscout/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.OpenRouter.APIKey == "" {
				return errors.New("OPENROUTER_API_KEY is required (set it in .env)")
			}
			addr := a.cfg.Server.Address
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := pipeline.NewEngine(pipelineConfig(a))
			if err != nil {
				return err
			}
			defer engine.Close()

			var m *metrics.Metrics
			if a.cfg.Server.MetricsEnabled {
				m = a.metrics
			}
			srv := server.New(ctx, engine.Session, m, log.Logger)

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(addr) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	return cmd
}

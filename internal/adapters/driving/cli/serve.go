package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

var serveMetricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run queued jobs and expose metrics",
	Long: `Runs until interrupted. On start it fails jobs left running by a dead
process (serve.recover_on_start), then polls the tenants listed in
serve.tenants for pending jobs and runs them on the worker pool.

Prometheus metrics are served on --metrics-addr (serve.metrics_addr);
an empty address disables them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "metrics listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if dispatcher == nil {
		return errors.New("dispatcher not configured")
	}

	addr := serveMetricsAddr
	if addr == "" && appConfig != nil {
		addr = appConfig.Serve.MetricsAddr
	}
	if err := checkModel(cmd.Context()); err != nil {
		return err
	}
	if appConfig != nil && len(appConfig.Tenants()) == 0 {
		logger.Warn("no tenants to poll: set serve.tenants or a default tenant")
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return dispatcher.Start(ctx)
	})
	if addr != "" && metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics listening on %s", addr)
			return metricsServer.Serve(ctx, addr)
		})
	}

	logger.Info("serving; press Ctrl-C to stop")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

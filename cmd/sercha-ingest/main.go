// Command sercha-ingest ingests tenant content and serves retrieval.
package main

import (
	"context"
	"os"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driving/cli"
	"github.com/custodia-labs/sercha-ingest/internal/app"
	"github.com/custodia-labs/sercha-ingest/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(bootstrap)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context, cfg *config.Config, queueOnly bool) (*cli.Services, error) {
	a, err := app.New(ctx, cfg, app.Options{QueueOnly: queueOnly})
	if err != nil {
		return nil, err
	}
	return &cli.Services{
		Jobs:       a.Jobs,
		Retrieval:  a.Retrieval,
		Sources:    a.Sources,
		Connectors: a.Connectors,
		Answerer:   a.Answerer,
		Embedder:   a.Embedder,
		Dispatcher: a.Dispatcher,
		Metrics:    a.Metrics,
		Close:      a.Close,
	}, nil
}

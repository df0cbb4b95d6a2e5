// Package app wires configured adapters into the core services.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/secrets"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/transcriber"
	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
	"github.com/custodia-labs/sercha-ingest/internal/metrics"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors/chunker"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
	"github.com/custodia-labs/sercha-ingest/internal/processors/pdf"
)

// Options adjust wiring per command.
type Options struct {
	// QueueOnly leaves submitted jobs pending for a serve process.
	QueueOnly bool
	// EmbeddingModel replaces the configured provider. The App closes it.
	EmbeddingModel driven.EmbeddingModel
}

// App holds the wired services. Close releases them in reverse order.
type App struct {
	Config     *config.Config
	Store      driven.Store
	Metrics    *metrics.Prometheus
	Connectors *services.ConnectorRegistry
	Jobs       *services.JobTracker
	Retrieval  *services.RetrievalService
	Sources    *services.SourceService
	Dispatcher *services.Dispatcher
	Answerer   driven.AnswerGenerator
	Embedder   *services.Embedder

	model driven.EmbeddingModel
}

// New builds every service from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	a := &App{Config: cfg, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error
	if a.Store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	a.model = opts.EmbeddingModel
	if a.model == nil {
		if a.model, err = ai.NewEmbeddingModel(cfg.Embedding); err != nil {
			return nil, err
		}
	}
	// The store's vector width is fixed at creation.
	if d := a.model.Dimensions(); d != cfg.Embedding.Dimensions {
		return nil, fmt.Errorf("embedding model %s declares %d dimensions, embedding.dimensions is %d: %w",
			a.model.ModelName(), d, cfg.Embedding.Dimensions, domain.ErrDimensionMismatch)
	}
	embedder := services.NewEmbedder(a.model, services.EmbedderConfig{
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
	}, a.Metrics)

	chunk, err := chunker.New(chunker.WithChunkSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap))
	if err != nil {
		return nil, err
	}

	procs := processors.NewRegistry()
	services.RegisterBuiltinProcessors(procs, pdf.Config{
		OCR:              cfg.PDF.OCR,
		DensityThreshold: cfg.PDF.DensityThreshold,
		Language:         cfg.PDF.Language,
		DPI:              cfg.PDF.DPI,
	})

	sealer, err := loadSealer(cfg.Secrets.KeyFile)
	if err != nil {
		return nil, err
	}
	var tr driven.Transcriber
	if cfg.Transcriber.BaseURL != "" {
		tr = transcriber.New(transcriber.Config{
			BaseURL:  cfg.Transcriber.BaseURL,
			APIKey:   cfg.Transcriber.APIKey,
			Model:    cfg.Transcriber.Model,
			Language: cfg.Transcriber.Language,
			Timeout:  cfg.Transcriber.Timeout,
		})
	}
	a.Connectors = services.NewConnectorRegistry(a.Store, secrets.NewResolver(), sealer)
	services.RegisterBuiltinConnectors(a.Connectors, tr)
	a.Connectors.SetDefaults(cfg.ConnectorDefaults())

	a.Embedder = embedder
	a.Jobs, err = services.NewJobTracker(a.Store, a.Connectors, procs, chunk, embedder, a.Metrics, services.JobTrackerConfig{
		Workers:         cfg.Jobs.Workers,
		ItemConcurrency: cfg.Jobs.ItemConcurrency,
		PollInterval:    cfg.Jobs.PollInterval,
		QueueOnly:       opts.QueueOnly,
	})
	if err != nil {
		return nil, err
	}

	a.Retrieval = services.NewRetrievalService(a.Store, embedder, a.Metrics, services.RetrievalConfig{
		DefaultK:      cfg.Retrieval.DefaultK,
		MaxK:          cfg.Retrieval.MaxK,
		RRFK:          cfg.Retrieval.RRFK,
		CandidatePool: cfg.Retrieval.CandidatePool,
	})
	a.Sources = services.NewSourceService(a.Store, sealer)
	a.Dispatcher = services.NewDispatcher(services.DispatcherConfig{
		Tenants:        cfg.Tenants(),
		Interval:       cfg.Serve.DispatchInterval,
		RecoverOnStart: cfg.Serve.RecoverOnStart,
	}, a.Jobs)

	if a.Answerer, err = ai.NewAnswerGenerator(cfg.LLM); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (driven.Store, error) {
	if cfg.Store.Driver == "postgres" {
		store, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithDimensions(cfg.Embedding.Dimensions))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := sqlite.NewStore(cfg.DataDir, sqlite.WithDimensions(cfg.Embedding.Dimensions))
	if err != nil {
		return nil, err
	}
	return store, nil
}

// loadSealer returns nil when the key file does not exist yet.
func loadSealer(path string) (driven.Sealer, error) {
	key, err := secrets.LoadKeyFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("no key file at %s, sealed credentials disabled", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return secrets.NewSealer(key), nil
}

// Close stops running jobs and releases the model and store.
func (a *App) Close() error {
	var errs []error
	if a.Jobs != nil {
		errs = append(errs, a.Jobs.Close())
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

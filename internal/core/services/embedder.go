package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// Embedder defaults.
const (
	DefaultDimensions  = 768
	DefaultBatchSize   = 32
	DefaultConcurrency = 4
)

// sampleText is embedded once to learn the model's real output size.
const sampleText = "dimension check"

// EmbedderConfig tunes batching.
type EmbedderConfig struct {
	// Dimensions is the vector size the store was created with.
	Dimensions int
	// BatchSize is the number of texts per model call.
	BatchSize int
	// Concurrency bounds in-flight model calls across all callers.
	Concurrency int
}

// Embedder batches texts through the process-wide embedding model.
// It is safe for concurrent use by every tenant.
type Embedder struct {
	model   driven.EmbeddingModel
	cfg     EmbedderConfig
	metrics driven.Metrics

	initMu sync.Mutex
	ready  bool
	fatal  error

	// slots bounds in-flight model calls process-wide.
	slots *semaphore.Weighted
	// callMu serialises calls into a non-reentrant model.
	callMu sync.Mutex
}

// NewEmbedder wraps model. The model is owned by the caller.
func NewEmbedder(model driven.EmbeddingModel, cfg EmbedderConfig, metrics driven.Metrics) *Embedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if metrics == nil {
		metrics = driven.NopMetrics{}
	}
	return &Embedder{
		model:   model,
		cfg:     cfg,
		metrics: metrics,
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Init embeds a sample text and checks the model's dimension. A mismatch is
// remembered and returned by every later call. An unreachable model is
// not remembered, so the next call tries again.
func (e *Embedder) Init(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.fatal != nil {
		return e.fatal
	}
	if e.ready {
		return nil
	}

	if d := e.model.Dimensions(); d != e.cfg.Dimensions {
		e.fatal = fmt.Errorf("model %s declares %d dimensions, store has %d: %w",
			e.model.ModelName(), d, e.cfg.Dimensions, domain.ErrDimensionMismatch)
		return e.fatal
	}

	vecs, err := e.call(ctx, []string{sampleText})
	if err != nil {
		return err
	}
	if len(vecs) != 1 || len(vecs[0]) != e.cfg.Dimensions {
		got := 0
		if len(vecs) > 0 {
			got = len(vecs[0])
		}
		e.fatal = fmt.Errorf("model %s returned %d dimensions, store has %d: %w",
			e.model.ModelName(), got, e.cfg.Dimensions, domain.ErrDimensionMismatch)
		return e.fatal
	}

	logger.Debug("embedder: %s ready (%d dimensions)", e.model.ModelName(), e.cfg.Dimensions)
	e.ready = true
	return nil
}

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.call(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(vecs), end-start)
			}
			for i, v := range vecs {
				if len(v) != e.cfg.Dimensions {
					return fmt.Errorf("vector %d has %d dimensions, want %d: %w",
						start+i, len(v), e.cfg.Dimensions, domain.ErrDimensionMismatch)
				}
				out[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// call runs one model request. It holds one of the shared slots, and the
// model lock as well when the model is not reentrant.
func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.slots.Release(1)
	if !e.model.Reentrant() {
		e.callMu.Lock()
		defer e.callMu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	vecs, err := e.model.EmbedBatch(ctx, texts)
	e.metrics.EmbeddingBatch(len(texts), time.Since(start), err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrEmbeddingUnavailable, e.model.ModelName(), err)
	}
	return vecs, nil
}

// Package metrics exports pipeline and retrieval measurements to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

const namespace = "sercha_ingest"

// Ensure Prometheus implements the interface.
var _ driven.Metrics = (*Prometheus)(nil)

// Prometheus records measurements in a Prometheus registry.
type Prometheus struct {
	registry *prometheus.Registry

	jobs           *prometheus.CounterVec
	items          *prometheus.CounterVec
	chunks         prometheus.Counter
	embedBatches   *prometheus.CounterVec
	embedDuration  prometheus.Histogram
	retrievals     *prometheus.CounterVec
	retrievalTime  prometheus.Histogram
	retrievalCount prometheus.Histogram
}

// New creates collectors in a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Fetched items by outcome.",
		}, []string{"outcome"}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Chunks written to the store.",
		}),
		embedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding model calls by result.",
		}, []string{"result"}),
		embedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_batch_duration_seconds",
			Help:      "Embedding model call latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		retrievals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval calls by result.",
		}, []string{"result"}),
		retrievalTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval latency including query embedding.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		retrievalCount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Chunks returned per retrieval.",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		}),
	}
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// JobFinished counts a terminal job.
func (p *Prometheus) JobFinished(status domain.JobStatus) {
	p.jobs.WithLabelValues(string(status)).Inc()
}

// ItemFinished counts an item outcome.
func (p *Prometheus) ItemFinished(outcome string) {
	p.items.WithLabelValues(outcome).Inc()
}

// ChunksWritten adds to the chunk counter.
func (p *Prometheus) ChunksWritten(n int) {
	p.chunks.Add(float64(n))
}

// EmbeddingBatch records one model call.
func (p *Prometheus) EmbeddingBatch(_ int, took time.Duration, err error) {
	p.embedBatches.WithLabelValues(result(err)).Inc()
	p.embedDuration.Observe(took.Seconds())
}

// Retrieval records one retrieval call.
func (p *Prometheus) Retrieval(took time.Duration, results int, err error) {
	p.retrievals.WithLabelValues(result(err)).Inc()
	p.retrievalTime.Observe(took.Seconds())
	if err == nil {
		p.retrievalCount.Observe(float64(results))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics: listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

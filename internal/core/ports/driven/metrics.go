package driven

import (
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Item outcomes reported to Metrics.
const (
	ItemProcessed = "processed"
	ItemSkipped   = "skipped"
	ItemFailed    = "failed"
)

// Metrics receives pipeline measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	JobFinished(status domain.JobStatus)
	ItemFinished(outcome string)
	ChunksWritten(n int)
	EmbeddingBatch(size int, took time.Duration, err error)
	Retrieval(took time.Duration, results int, err error)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) JobFinished(domain.JobStatus)             {}
func (NopMetrics) ItemFinished(string)                      {}
func (NopMetrics) ChunksWritten(int)                        {}
func (NopMetrics) EmbeddingBatch(int, time.Duration, error) {}
func (NopMetrics) Retrieval(time.Duration, int, error)      {}

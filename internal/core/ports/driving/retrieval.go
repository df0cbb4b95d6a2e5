package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// RetrieveOptions tunes a retrieval call.
type RetrieveOptions struct {
	// K is the number of results. Zero uses the configured default.
	K int

	// Hybrid fuses lexical ranking into the vector ranking.
	Hybrid bool
}

// RetrievalService answers tenant-scoped similarity queries.
type RetrievalService interface {
	// Retrieve embeds the query and returns ranked chunks. An embedder
	// failure wraps domain.ErrEmbeddingUnavailable; no match returns an
	// empty slice and nil error.
	Retrieve(ctx context.Context, tenant domain.TenantID, query string, opts RetrieveOptions) ([]domain.RankedChunk, error)

	// AssembleContext renders ranked chunks as numbered, cited context
	// bounded by maxChars (zero means unbounded).
	AssembleContext(question string, chunks []domain.RankedChunk, maxChars int) domain.RetrievalContext
}

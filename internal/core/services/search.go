package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// Ensure RetrievalService implements the interface.
var _ driving.RetrievalService = (*RetrievalService)(nil)

// Retrieval defaults.
const (
	DefaultK    = 5
	DefaultMaxK = 50
)

// RetrievalConfig bounds retrieval calls.
type RetrievalConfig struct {
	DefaultK int
	MaxK     int
	// RRFK is the reciprocal rank fusion constant for hybrid queries.
	RRFK int
	// CandidatePool overrides how many candidates each ranking contributes
	// before fusion. Zero lets the store decide.
	CandidatePool int
}

// RetrievalService embeds queries with the ingestion embedder and ranks
// chunks in the store. It holds no per-call state and is safe for
// concurrent use by every tenant.
type RetrievalService struct {
	store    driven.SearchStore
	embedder *Embedder
	metrics  driven.Metrics
	cfg      RetrievalConfig
}

// NewRetrievalService creates a retrieval service.
func NewRetrievalService(store driven.SearchStore, embedder *Embedder, metrics driven.Metrics, cfg RetrievalConfig) *RetrievalService {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultMaxK
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = domain.DefaultRRFK
	}
	if metrics == nil {
		metrics = driven.NopMetrics{}
	}
	return &RetrievalService{store: store, embedder: embedder, metrics: metrics, cfg: cfg}
}

// Retrieve returns up to k chunks for query.
func (s *RetrievalService) Retrieve(ctx context.Context, tenant domain.TenantID, query string,
	opts driving.RetrieveOptions) ([]domain.RankedChunk, error) {
	start := time.Now()
	results, err := s.retrieve(ctx, tenant, query, opts)
	s.metrics.Retrieval(time.Since(start), len(results), err)
	return results, err
}

func (s *RetrievalService) retrieve(ctx context.Context, tenant domain.TenantID, query string,
	opts driving.RetrieveOptions) ([]domain.RankedChunk, error) {
	if err := domain.RequireTenant(tenant); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}

	k := opts.K
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	k = min(k, s.cfg.MaxK)

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrDimensionMismatch):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
	}

	q := domain.SearchQuery{Vector: vec, K: k, RRFK: s.cfg.RRFK, CandidatePool: s.cfg.CandidatePool}
	if opts.Hybrid {
		q.HybridText = query
	}
	results, err := s.store.Search(ctx, tenant, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	logger.Debug("retrieve: tenant=%s k=%d hybrid=%t results=%d", tenant, k, opts.Hybrid, len(results))
	if results == nil {
		results = []domain.RankedChunk{}
	}
	return results, nil
}

// AssembleContext renders chunks as numbered, cited blocks. maxChars
// bounds the rendered text in characters; zero means unbounded. A first
// block larger than the budget is truncated rather than dropped.
func (s *RetrievalService) AssembleContext(question string, chunks []domain.RankedChunk, maxChars int) domain.RetrievalContext {
	var (
		sb   strings.Builder
		used int
		out  = domain.RetrievalContext{Question: question, Sources: []domain.RankedChunk{}}
	)
	for i, c := range chunks {
		block := citation(i+1, c) + "\n" + strings.TrimSpace(c.Content) + "\n\n"
		size := utf8.RuneCountInString(block)
		if maxChars > 0 && used+size > maxChars {
			if len(out.Sources) == 0 {
				sb.WriteString(truncateRunes(block, maxChars))
				out.Sources = append(out.Sources, c)
			}
			break
		}
		sb.WriteString(block)
		used += size
		out.Sources = append(out.Sources, c)
	}
	out.Text = strings.TrimRight(sb.String(), "\n")
	return out
}

// citation renders the header of one context block.
func citation(n int, c domain.RankedChunk) string {
	name := c.Title
	if name == "" {
		name = c.NaturalKey
	}
	ref := c.NaturalKey
	if c.SourceLocation != "" && !strings.HasPrefix(c.NaturalKey, c.SourceLocation) {
		ref = c.SourceLocation + " > " + c.NaturalKey
	}
	return fmt.Sprintf("[%d] %s (%s, chunk %d, v%d)", n, name, ref, c.Ordinal, c.Version)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

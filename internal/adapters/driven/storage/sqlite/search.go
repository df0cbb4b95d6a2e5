package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/ranking"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// ==================== Search ====================

// visibleChunks restricts chunks to current versions of live sources.
const visibleChunks = `
	FROM chunks c
	JOIN document_versions v ON v.id = c.version_id AND v.tenant_id = ?1 AND v.state = 'current'
	JOIN documents d ON d.id = v.document_id AND d.tenant_id = ?1 AND d.current_version_id = v.id
	JOIN sources s ON s.id = d.source_id AND s.tenant_id = ?1 AND s.deleted_at IS NULL
`

// Search ranks the tenant's visible chunks by cosine distance, optionally
// fused with an FTS5 bm25 ranking.
func (s *Store) Search(ctx context.Context, tenant domain.TenantID, q domain.SearchQuery) ([]domain.RankedChunk, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrInvalidInput)
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", domain.ErrInvalidInput)
	}
	if s.dimensions > 0 && len(q.Vector) != s.dimensions {
		return nil, fmt.Errorf("query has %d dimensions, want %d: %w", len(q.Vector), s.dimensions, domain.ErrDimensionMismatch)
	}

	candidates, err := s.vectorCandidates(ctx, sc, q.Vector)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.RankedChunk{}, nil
	}
	ranking.SortByDistance(candidates)

	byID := make(map[string]ranking.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ChunkID] = c
	}

	pool := ranking.Pool(q)
	var picked []ranking.Scored
	if strings.TrimSpace(q.HybridText) != "" {
		lexical, err := s.lexicalRanking(ctx, sc, q.HybridText, pool)
		if err != nil {
			return nil, err
		}
		vec := candidates
		if len(vec) > pool {
			vec = vec[:pool]
		}
		picked = ranking.Fuse(vec, lexical, q.RRFK)
	} else {
		for _, c := range candidates {
			picked = append(picked, ranking.Scored{ChunkID: c.ChunkID, Score: 1 - c.Distance})
		}
	}
	if len(picked) > q.K {
		picked = picked[:q.K]
	}

	return s.hydrate(ctx, sc, picked, byID)
}

func (s *Store) vectorCandidates(ctx context.Context, sc *scope, query []float32) ([]ranking.Candidate, error) {
	rows, err := sc.query(ctx, `
		SELECT c.id, c.embedding, v.version, v.created_at, c.ordinal`+visibleChunks+`
		WHERE c.tenant_id = ?1
	`)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var out []ranking.Candidate
	for rows.Next() {
		var (
			c    ranking.Candidate
			blob []byte
		)
		if err := rows.Scan(&c.ChunkID, &blob, &c.Version, &c.VersionAt, &c.Ordinal); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		vec := decodeVector(blob)
		if len(vec) != len(query) {
			continue
		}
		c.Distance = ranking.CosineDistance(query, vec)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}
	return out, nil
}

// ftsQuery turns free text into an OR of quoted FTS5 terms.
func ftsQuery(text string) string {
	terms := ranking.Terms(text)
	if len(terms) == 0 {
		return ""
	}
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

// lexicalRanking returns chunk IDs ordered by bm25 (best first).
func (s *Store) lexicalRanking(ctx context.Context, sc *scope, text string, limit int) ([]string, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	rows, err := sc.query(ctx, `
		SELECT c.id
		FROM chunks_fts
		JOIN chunks c ON c.seq = chunks_fts.rowid AND c.tenant_id = ?1
		JOIN document_versions v ON v.id = c.version_id AND v.tenant_id = ?1 AND v.state = 'current'
		JOIN documents d ON d.id = v.document_id AND d.tenant_id = ?1 AND d.current_version_id = v.id
		JOIN sources s ON s.id = d.source_id AND s.tenant_id = ?1 AND s.deleted_at IS NULL
		WHERE chunks_fts MATCH ?2 AND chunks_fts.tenant_id = ?1
		ORDER BY bm25(chunks_fts), c.ordinal
		LIMIT ?3
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lexical index: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning lexical hit: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lexical hits: %w", err)
	}
	return ids, nil
}

// hydrate loads display fields for the picked chunks, preserving order.
func (s *Store) hydrate(ctx context.Context, sc *scope, picked []ranking.Scored,
	byID map[string]ranking.Candidate) ([]domain.RankedChunk, error) {
	if len(picked) == 0 {
		return []domain.RankedChunk{}, nil
	}

	placeholders := make([]string, len(picked))
	args := make([]any, len(picked))
	for i, p := range picked {
		placeholders[i] = fmt.Sprintf("?%d", i+2)
		args[i] = p.ChunkID
	}

	rows, err := sc.query(ctx, `
		SELECT c.id, c.content, d.id, d.natural_key, d.title, s.id, s.location`+visibleChunks+`
		WHERE c.tenant_id = ?1 AND c.id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("hydrating results: %w", err)
	}
	defer rows.Close()

	found := make(map[string]domain.RankedChunk, len(picked))
	for rows.Next() {
		var r domain.RankedChunk
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.DocumentID, &r.NaturalKey, &r.Title,
			&r.SourceID, &r.SourceLocation); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		found[r.ChunkID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}

	results := make([]domain.RankedChunk, 0, len(picked))
	for _, p := range picked {
		r, ok := found[p.ChunkID]
		if !ok {
			continue // superseded between ranking and hydration
		}
		c := byID[p.ChunkID]
		r.Ordinal = c.Ordinal
		r.Version = c.Version
		r.VersionAt = c.VersionAt.In(time.UTC)
		r.Distance = c.Distance
		r.Score = p.Score
		results = append(results, r)
	}
	return results, nil
}

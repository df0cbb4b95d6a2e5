package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/ranking"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// visibleChunks restricts chunks to current versions of live sources.
const visibleChunks = `
	FROM chunks c
	JOIN document_versions v ON v.id = c.version_id AND v.tenant_id = $1 AND v.state = 'current'
	JOIN documents d ON d.id = v.document_id AND d.tenant_id = $1 AND d.current_version_id = v.id
	JOIN sources s ON s.id = d.source_id AND s.tenant_id = $1 AND s.deleted_at IS NULL
`

// Search ranks chunks with the pgvector cosine operator and, for hybrid
// queries, fuses a tsvector ranking.
func (s *Store) Search(ctx context.Context, tenant domain.TenantID, q domain.SearchQuery) ([]domain.RankedChunk, error) {
	results := []domain.RankedChunk{}
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		if q.K <= 0 {
			return fmt.Errorf("%w: k must be positive", domain.ErrInvalidInput)
		}
		if len(q.Vector) == 0 {
			return fmt.Errorf("%w: query vector required", domain.ErrInvalidInput)
		}
		if len(q.Vector) != s.dimensions {
			return fmt.Errorf("query has %d dimensions, want %d: %w", len(q.Vector), s.dimensions, domain.ErrDimensionMismatch)
		}

		hybrid := strings.TrimSpace(q.HybridText) != ""
		limit := q.K
		if hybrid {
			limit = ranking.Pool(q)
		}
		candidates, err := vectorCandidates(ctx, sc, q.Vector, limit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		ranking.SortByDistance(candidates)

		byID := make(map[string]ranking.Candidate, len(candidates))
		for _, c := range candidates {
			byID[c.ChunkID] = c
		}

		var picked []ranking.Scored
		if hybrid {
			lexical, err := lexicalRanking(ctx, sc, q.HybridText, limit)
			if err != nil {
				return err
			}
			// Lexical-only hits need their distance for the result.
			if err := fillDistances(ctx, sc, q.Vector, lexical, byID); err != nil {
				return err
			}
			picked = ranking.Fuse(candidates, lexical, q.RRFK)
		} else {
			for _, c := range candidates {
				picked = append(picked, ranking.Scored{ChunkID: c.ChunkID, Score: 1 - c.Distance})
			}
		}
		if len(picked) > q.K {
			picked = picked[:q.K]
		}

		results, err = hydrate(ctx, sc, picked, byID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

const candidateColumns = `c.id, c.embedding <=> $2, v.version, v.created_at, c.ordinal`

func scanCandidates(rows pgx.Rows) ([]ranking.Candidate, error) {
	defer rows.Close()
	var out []ranking.Candidate
	for rows.Next() {
		var c ranking.Candidate
		if err := rows.Scan(&c.ChunkID, &c.Distance, &c.Version, &c.VersionAt, &c.Ordinal); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		c.VersionAt = c.VersionAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return out, nil
}

func vectorCandidates(ctx context.Context, sc *scope, query []float32, limit int) ([]ranking.Candidate, error) {
	rows, err := sc.query(ctx, `
		SELECT `+candidateColumns+visibleChunks+`
		WHERE c.tenant_id = $1
		ORDER BY c.embedding <=> $2, v.created_at DESC, v.version DESC, c.ordinal, c.id
		LIMIT $3
	`, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	return scanCandidates(rows)
}

func fillDistances(ctx context.Context, sc *scope, query []float32, ids []string, byID map[string]ranking.Candidate) error {
	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	rows, err := sc.query(ctx, `
		SELECT `+candidateColumns+visibleChunks+`
		WHERE c.tenant_id = $1 AND c.id = ANY($3)
	`, pgvector.NewVector(query), missing)
	if err != nil {
		return fmt.Errorf("querying distances: %w", err)
	}
	extra, err := scanCandidates(rows)
	if err != nil {
		return err
	}
	for _, c := range extra {
		byID[c.ChunkID] = c
	}
	return nil
}

// tsQuery turns free text into an OR of quoted terms.
func tsQuery(text string) string {
	terms := ranking.Terms(text)
	for i, t := range terms {
		terms[i] = "'" + t + "'"
	}
	return strings.Join(terms, " | ")
}

func lexicalRanking(ctx context.Context, sc *scope, text string, limit int) ([]string, error) {
	match := tsQuery(text)
	if match == "" {
		return nil, nil
	}
	rows, err := sc.query(ctx, `
		SELECT c.id`+visibleChunks+`
		WHERE c.tenant_id = $1 AND c.tsv @@ to_tsquery('simple', $2)
		ORDER BY ts_rank_cd(c.tsv, to_tsquery('simple', $2)) DESC, c.ordinal, c.id
		LIMIT $3
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lexical index: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("reading lexical hits: %w", err)
	}
	return ids, nil
}

func hydrate(ctx context.Context, sc *scope, picked []ranking.Scored,
	byID map[string]ranking.Candidate) ([]domain.RankedChunk, error) {
	if len(picked) == 0 {
		return []domain.RankedChunk{}, nil
	}
	ids := make([]string, len(picked))
	for i, p := range picked {
		ids[i] = p.ChunkID
	}

	rows, err := sc.query(ctx, `
		SELECT c.id, c.content, d.id, d.natural_key, d.title, s.id, s.location`+visibleChunks+`
		WHERE c.tenant_id = $1 AND c.id = ANY($2)
	`, ids)
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
			continue
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

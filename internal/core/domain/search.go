package domain

import "time"

// SearchQuery is a tenant-scoped similarity query against the store.
type SearchQuery struct {
	// Vector is the embedded query.
	Vector []float32

	// K is the maximum number of results.
	K int

	// HybridText enables lexical fusion when non-empty.
	HybridText string

	// RRFK is the reciprocal-rank fusion constant. Zero means 60.
	RRFK int

	// CandidatePool bounds each ranked list before fusion. Zero means max(10*K, 100).
	CandidatePool int
}

// DefaultRRFK is the reciprocal-rank fusion constant.
const DefaultRRFK = 60

// RankedChunk is one retrieval result.
type RankedChunk struct {
	ChunkID    string
	Content    string
	DocumentID string

	// NaturalKey is the document's path or URL.
	NaturalKey string

	Title          string
	SourceID       string
	SourceLocation string
	Ordinal        int
	Version        int
	VersionAt      time.Time

	// Distance is the cosine distance to the query vector.
	Distance float64

	// Score is the fused score for hybrid queries, 1-Distance otherwise.
	Score float64
}

// RetrievalContext is ranked chunks rendered for an answer generator.
type RetrievalContext struct {
	Question string
	Text     string
	Sources  []RankedChunk
}

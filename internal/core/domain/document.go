package domain

import "time"

// Document is the logical identity of one item within a Source,
// keyed by (tenant, source, natural key).
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	TenantID TenantID
	SourceID string

	// NaturalKey is the path, URL or row key reported by the connector.
	NaturalKey string

	// Title is the human-readable title, if the processor found one.
	Title string

	// CurrentVersion is the promoted version number, 0 before the first promotion.
	CurrentVersion int

	// CurrentVersionID is the promoted DocumentVersion, empty before the first promotion.
	CurrentVersionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VersionState distinguishes staged from promoted versions.
type VersionState string

// Version states. Only the current version's chunks are visible to readers.
const (
	VersionStaged     VersionState = "staged"
	VersionCurrent    VersionState = "current"
	VersionSuperseded VersionState = "superseded"
)

// VersionSnapshot is the per-item metadata captured for a new version.
type VersionSnapshot struct {
	Title       string
	ContentType string
	ByteSize    int64
	PageCount   int
	RecordCount int
	ContentHash string
	JobID       string
	Metadata    map[string]any
}

// DocumentVersion is an immutable snapshot of a Document.
type DocumentVersion struct {
	ID         string
	TenantID   TenantID
	DocumentID string
	Version    int
	State      VersionState
	VersionSnapshot
	CreatedAt time.Time
}

// Chunk is an ordered, embedded segment of a DocumentVersion.
// Chunks are immutable once written.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	VersionID string

	// Ordinal is the position within the version, starting at 0.
	Ordinal int

	// Content is the chunk text.
	Content string

	// StartOffset and EndOffset are rune offsets into the extracted text.
	StartOffset int
	EndOffset   int

	// Embedding is the vector representation.
	Embedding []float32

	// Metadata contains chunk-specific key-value pairs.
	Metadata map[string]any
}

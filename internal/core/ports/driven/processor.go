package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Processor converts a raw item into plain text plus metadata.
type Processor interface {
	// Name identifies the processor in logs and errors.
	Name() string

	// ContentTypes returns the MIME types this processor handles.
	// Use "*" for a catch-all processor.
	ContentTypes() []string

	// Priority orders processors claiming the same type. Higher wins.
	Priority() int

	// Extract returns the item's text. Malformed input returns
	// *domain.ExtractionError.
	Extract(ctx context.Context, item *domain.RawItem) (*domain.Extraction, error)
}

// ProcessorRegistry selects a Processor for a content type.
type ProcessorRegistry interface {
	// Register adds a processor.
	Register(p Processor)

	// Get returns the highest priority processor for the content type.
	// Returns domain.ErrUnsupportedFormat if none matches.
	Get(contentType string) (Processor, error)

	// ContentTypes lists every registered type.
	ContentTypes() []string
}

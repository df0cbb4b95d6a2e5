// Package plaintext provides the fallback processor for text-like content.
package plaintext

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

// Processor passes text through unchanged apart from line endings.
type Processor struct{}

// New creates a plain text processor.
func New() *Processor {
	return &Processor{}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "plaintext"
}

// ContentTypes returns the MIME types this processor handles.
// The wildcard makes it the fallback for any text-like type.
func (p *Processor) ContentTypes() []string {
	return []string{"text/plain", "*"}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 5 // Fallback processor
}

// Extract returns the item's content as text.
func (p *Processor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}
	if !utf8.Valid(item.Content) {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: errors.New("content is not valid UTF-8")}
	}

	title := processors.MetadataTitle(item.Metadata)
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "text"

	return &domain.Extraction{
		Text:     strings.TrimSpace(processors.NormaliseNewlines(string(item.Content))),
		Title:    title,
		Metadata: meta,
	}, nil
}

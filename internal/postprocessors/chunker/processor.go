// Package chunker provides a fixed-size text chunker.
package chunker

import (
	"fmt"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Segment is one chunk of text. Start and End are rune offsets into the
// source text, End exclusive.
type Segment struct {
	Ordinal int
	Start   int
	End     int
	Text    string
}

// Chunker splits text into overlapping fixed-size segments.
// Sizes are counted in characters (runes), never bytes.
type Chunker struct {
	size    int
	overlap int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.size = size
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// New creates a chunker. It fails unless 0 <= overlap < size.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidInput, c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrInvalidInput, c.overlap, c.size)
	}
	return c, nil
}

// Size returns the chunk size in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the segments of text. Empty text yields no segments.
// Consecutive segments share exactly Overlap characters and the last
// segment ends at the end of text.
func (c *Chunker) Split(text string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	segments := make([]Segment, 0, n/step+1)

	for start := 0; ; start += step {
		end := min(start+c.size, n)
		segments = append(segments, Segment{
			Ordinal: len(segments),
			Start:   start,
			End:     end,
			Text:    string(runes[start:end]),
		})
		// Stop once a segment reaches the end so the tail is never a
		// strict subset of its predecessor.
		if end == n {
			break
		}
	}
	return segments
}

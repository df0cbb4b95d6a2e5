package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

type stubProcessor struct {
	name     string
	types    []string
	priority int
}

func (s *stubProcessor) Name() string           { return s.name }
func (s *stubProcessor) ContentTypes() []string { return s.types }
func (s *stubProcessor) Priority() int          { return s.priority }
func (s *stubProcessor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	return &domain.Extraction{Text: string(item.Content)}, nil
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProcessor{name: "text", types: []string{"*"}, priority: 5})
	r.Register(&stubProcessor{name: "md", types: []string{"text/markdown"}, priority: 50})
	r.Register(&stubProcessor{name: "md-fancy", types: []string{"text/markdown"}, priority: 60})
	r.Register(&stubProcessor{name: "pdf", types: []string{"application/pdf"}, priority: 50})

	tests := []struct {
		contentType string
		want        string
	}{
		{"text/markdown", "md-fancy"},
		{"text/markdown; charset=utf-8", "md-fancy"},
		{"TEXT/MARKDOWN", "md-fancy"},
		{"application/pdf", "pdf"},
		{"text/x-go", "text"},
		{"application/json", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			p, err := r.Get(tt.contentType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestRegistry_Unsupported(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProcessor{name: "text", types: []string{"*"}, priority: 5})

	_, err := r.Get("image/png")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.True(t, domain.IsItemScoped(err))

	_, err = NewRegistry().Get("text/plain")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestRegistry_ContentTypes(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProcessor{name: "a", types: []string{"text/csv", "*"}})
	r.Register(&stubProcessor{name: "b", types: []string{"application/pdf"}})
	assert.Equal(t, []string{"application/pdf", "text/csv"}, r.ContentTypes())
}

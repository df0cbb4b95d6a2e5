package processors

import (
	"fmt"
	"mime"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.ProcessorRegistry = (*Registry)(nil)

// Registry selects processors by content type.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string][]driven.Processor
	wildcard []driven.Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string][]driven.Processor)}
}

// Register adds a processor for each of its content types.
func (r *Registry) Register(p driven.Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ct := range p.ContentTypes() {
		if ct == "*" {
			r.wildcard = insertByPriority(r.wildcard, p)
			continue
		}
		key := normalise(ct)
		r.byType[key] = insertByPriority(r.byType[key], p)
	}
}

// Get returns the highest priority processor for contentType.
// Parameters such as "; charset=utf-8" are ignored.
func (r *Registry) Get(contentType string) (driven.Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalise(contentType)
	var best driven.Processor
	if ps := r.byType[key]; len(ps) > 0 {
		best = ps[0]
	}
	// A catch-all only wins for text-like types, never for binary formats.
	if len(r.wildcard) > 0 && isTextual(key) {
		if best == nil || r.wildcard[0].Priority() > best.Priority() {
			best = r.wildcard[0]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, contentType)
	}
	return best, nil
}

// ContentTypes lists every explicitly registered type, sorted.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for ct := range r.byType {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}

func insertByPriority(list []driven.Processor, p driven.Processor) []driven.Processor {
	list = append(list, p)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority() > list[j].Priority()
	})
	return list
}

func normalise(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// isTextual reports whether a type can be read as UTF-8 text.
func isTextual(mt string) bool {
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/json", mt == "application/xml", mt == "application/x-ndjson",
		strings.HasSuffix(mt, "+json"), strings.HasSuffix(mt, "+xml"):
		return true
	}
	return false
}

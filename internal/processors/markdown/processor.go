// Package markdown provides a processor for Markdown documents.
package markdown

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

var (
	frontMatter  = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
	codeFence    = regexp.MustCompile("(?m)^```.*$")
	inlineCode   = regexp.MustCompile("`([^`]+)`")
	images       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headings     = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	emphasis     = regexp.MustCompile(`(\*\*|__|\*|~~)([^*_~\n]+)(\*\*|__|\*|~~)`)
	blockquote   = regexp.MustCompile(`(?m)^>[ \t]?`)
	hr           = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	listMarkers  = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	numbered     = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	tableRule    = regexp.MustCompile(`(?m)^\|?[ \t]*:?-{3,}[-|: \t]*$\n?`)
	htmlTags     = regexp.MustCompile(`<[^>]+>`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// Processor handles Markdown documents.
type Processor struct{}

// New creates a Markdown processor.
func New() *Processor {
	return &Processor{}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "markdown"
}

// ContentTypes returns the MIME types this processor handles.
func (p *Processor) ContentTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 50 // Generic MIME processor, higher than plaintext
}

// Extract strips Markdown syntax and takes the title from the first H1.
func (p *Processor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	raw := processors.NormaliseNewlines(string(item.Content))

	title := extractTitle(raw)
	if title == "" {
		title = processors.MetadataTitle(item.Metadata)
	}
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "markdown"

	return &domain.Extraction{
		Text:     Strip(raw),
		Title:    title,
		Metadata: meta,
	}, nil
}

// extractTitle returns the text of the first "# " heading outside code fences.
func extractTitle(content string) string {
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}

// Strip removes common Markdown formatting, keeping the readable text.
// Code block contents are kept; only the fences go.
func Strip(content string) string {
	content = frontMatter.ReplaceAllString(content, "")
	content = codeFence.ReplaceAllString(content, "")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = images.ReplaceAllString(content, "$1")
	content = links.ReplaceAllString(content, "$1")
	content = headings.ReplaceAllString(content, "")
	content = emphasis.ReplaceAllString(content, "$2")
	content = blockquote.ReplaceAllString(content, "")
	content = tableRule.ReplaceAllString(content, "")
	content = hr.ReplaceAllString(content, "")
	content = listMarkers.ReplaceAllString(content, "")
	content = numbered.ReplaceAllString(content, "")
	content = htmlTags.ReplaceAllString(content, "")
	content = multiNewline.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

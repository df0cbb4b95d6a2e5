// Package html provides a processor for HTML pages.
package html

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

// skipped elements contribute no visible text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Head:     true,
}

// block elements start a new line.
var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Table: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Blockquote: true, atom.Pre: true,
	atom.Ul: true, atom.Ol: true, atom.Dt: true, atom.Dd: true,
}

// Processor handles HTML documents.
type Processor struct{}

// New creates an HTML processor.
func New() *Processor {
	return &Processor{}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "html"
}

// ContentTypes returns the MIME types this processor handles.
func (p *Processor) ContentTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 50
}

// Extract returns the visible text of the page. The title comes from
// <title>, falling back to the first <h1>.
func (p *Processor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	text, title, err := VisibleText(item.Content)
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: err}
	}
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "html"

	return &domain.Extraction{
		Text:     text,
		Title:    title,
		Metadata: meta,
	}, nil
}

// VisibleText returns the visible text of an HTML document, one line per
// block element, and its title from <title> or the first <h1>.
func VisibleText(content []byte) (text, title string, err error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", "", fmt.Errorf("parse: %w", err)
	}

	w := &walker{}
	w.walk(doc)

	title = w.title
	if title == "" {
		title = w.h1
	}
	return w.text(), title, nil
}

type walker struct {
	buf   strings.Builder
	title string
	h1    string
}

func (w *walker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch {
		case n.DataAtom == atom.Title && w.title == "":
			w.title = collapse(textOf(n))
			return
		case n.DataAtom == atom.Head:
			// <title> lives in <head>; nothing else there is visible.
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Title {
					w.walk(c)
				}
			}
			return
		case skipped[n.DataAtom]:
			return
		case n.DataAtom == atom.H1 && w.h1 == "":
			w.h1 = collapse(textOf(n))
		}
		if block[n.DataAtom] {
			w.buf.WriteByte('\n')
		}
	}
	if n.Type == html.TextNode {
		w.buf.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.Type == html.ElementNode && block[n.DataAtom] {
		w.buf.WriteByte('\n')
	}
}

// text returns the collected text with one line per block and no blank runs.
func (w *walker) text() string {
	var lines []string
	for _, line := range strings.Split(w.buf.String(), "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

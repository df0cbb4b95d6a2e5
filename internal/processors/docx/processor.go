// Package docx provides a processor for Word (.docx) documents.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

// ContentType is the MIME type of Word documents.
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// maxPartSize bounds a single decompressed part.
const maxPartSize = 64 << 20

// Processor extracts paragraph text from the document body.
type Processor struct{}

// New creates a DOCX processor.
func New() *Processor {
	return &Processor{}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "docx"
}

// ContentTypes returns the MIME types this processor handles.
func (p *Processor) ContentTypes() []string {
	return []string{ContentType}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 50
}

// Extract returns one line per paragraph of word/document.xml. The title
// comes from docProps/core.xml, then connector metadata, then the key.
func (p *Processor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	zr, err := zip.NewReader(bytes.NewReader(item.Content), int64(len(item.Content)))
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: fmt.Errorf("open archive: %w", err)}
	}

	body, err := readPart(zr, "word/document.xml")
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: err}
	}
	text, paragraphs, err := bodyText(body)
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: err}
	}

	title := coreTitle(zr)
	if title == "" {
		title = processors.MetadataTitle(item.Metadata)
	}
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "docx"
	meta["paragraphs"] = paragraphs

	return &domain.Extraction{
		Text:     text,
		Title:    title,
		Metadata: meta,
	}, nil
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("missing %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) > maxPartSize {
		return nil, fmt.Errorf("%s larger than %d bytes", name, maxPartSize)
	}
	return data, nil
}

// bodyText walks the WordprocessingML tokens. Runs nested in hyperlinks,
// tables and content controls are included; empty paragraphs are dropped.
func bodyText(data []byte) (string, int, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		lines  []string
		para   strings.Builder
		inText bool
		count  int
	)
	flush := func() {
		if line := strings.TrimSpace(para.String()); line != "" {
			lines = append(lines, line)
			count++
		}
		para.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return strings.Join(lines, "\n"), count, nil
}

// coreTitle reads dc:title from the package properties, if present.
func coreTitle(zr *zip.Reader) string {
	data, err := readPart(zr, "docProps/core.xml")
	if err != nil {
		return ""
	}
	var core struct {
		Title string `xml:"title"`
	}
	if err := xml.Unmarshal(data, &core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}

// Package tabular provides a processor for CSV and XLSX files.
//
// Every record is rendered as "header: value" lines so that a chunk of
// the output still says which column each value came from.
package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

// Content types handled.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Processor handles spreadsheet-like content.
type Processor struct{}

// New creates a tabular processor.
func New() *Processor {
	return &Processor{}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "tabular"
}

// ContentTypes returns the MIME types this processor handles.
func (p *Processor) ContentTypes() []string {
	return []string{ContentTypeCSV, "application/csv", "text/tab-separated-values", ContentTypeXLSX}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 50
}

// Extract renders the item's records.
func (p *Processor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	var (
		text    string
		records int
		sheets  []string
		err     error
	)
	switch ct := strings.ToLower(item.ContentType); {
	case strings.HasPrefix(ct, ContentTypeXLSX):
		text, records, sheets, err = renderXLSX(item.Content)
	case strings.HasPrefix(ct, "text/tab-separated-values"):
		text, records, err = renderCSV(item.Content, '\t')
	default:
		text, records, err = renderCSV(item.Content, ',')
	}
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: err}
	}

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "tabular"
	meta["record_count"] = records
	if len(sheets) > 0 {
		meta["sheets"] = sheets
	}

	title := processors.MetadataTitle(item.Metadata)
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	return &domain.Extraction{
		Text:        text,
		Title:       title,
		RecordCount: records,
		Metadata:    meta,
	}, nil
}

func renderCSV(content []byte, comma rune) (string, int, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}

	var sb strings.Builder
	n := renderRows(&sb, rows)
	return strings.TrimSpace(sb.String()), n, nil
}

func renderXLSX(content []byte) (string, int, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", 0, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var (
		sb     strings.Builder
		total  int
		sheets = f.GetSheetList()
	)
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", 0, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		if len(sheets) > 1 {
			fmt.Fprintf(&sb, "sheet: %s\n\n", sheet)
		}
		total += renderRows(&sb, rows)
	}
	return strings.TrimSpace(sb.String()), total, sheets, nil
}

// renderRows writes rows[1:] as "header: value" blocks using rows[0] as
// the header. It returns the number of non-empty records written.
func renderRows(sb *strings.Builder, rows [][]string) int {
	if len(rows) == 0 {
		return 0
	}
	header := rows[0]
	n := 0
	for _, row := range rows[1:] {
		wrote := false
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			fmt.Fprintf(sb, "%s: %s\n", name, v)
			wrote = true
		}
		if wrote {
			sb.WriteByte('\n')
			n++
		}
	}
	return n
}

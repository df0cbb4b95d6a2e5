package services

import (
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors/docx"
	"github.com/custodia-labs/sercha-ingest/internal/processors/eml"
	"github.com/custodia-labs/sercha-ingest/internal/processors/html"
	"github.com/custodia-labs/sercha-ingest/internal/processors/markdown"
	"github.com/custodia-labs/sercha-ingest/internal/processors/pdf"
	"github.com/custodia-labs/sercha-ingest/internal/processors/plaintext"
	"github.com/custodia-labs/sercha-ingest/internal/processors/tabular"
)

// RegisterBuiltinProcessors registers every shipped processor.
func RegisterBuiltinProcessors(r driven.ProcessorRegistry, pdfCfg pdf.Config) {
	r.Register(plaintext.New())
	r.Register(markdown.New())
	r.Register(html.New())
	r.Register(tabular.New())
	r.Register(pdf.New(pdfCfg))
	r.Register(docx.New())
	r.Register(eml.New())
}

// Package pdf provides a processor for PDF documents.
//
// pdfcpu validates the file and counts its pages. The text layer is
// extracted with pdftotext from poppler-utils. Scanned documents whose
// text layer is too sparse are rasterised with pdftoppm and OCR'd with
// tesseract when OCR is enabled.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

// ErrPDFToolNotFound indicates pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found: install poppler-utils")

// Tool names.
const (
	toolPDFToText = "pdftotext"
	toolPDFToPPM  = "pdftoppm"
	toolTesseract = "tesseract"
)

// Default OCR settings.
const (
	DefaultDensityThreshold = 50.0
	DefaultOCRLanguage      = "eng"
	DefaultOCRDPI           = 300
)

// CommandRunner executes an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Config controls OCR fallback.
type Config struct {
	// OCR enables the tesseract fallback for sparse text layers.
	OCR bool

	// DensityThreshold is the mean non-whitespace characters per page
	// below which OCR runs.
	DensityThreshold float64

	// Language is passed to tesseract -l.
	Language string

	// DPI is the rasterisation resolution.
	DPI int
}

// Processor handles PDF documents.
type Processor struct {
	cfg    Config
	runner CommandRunner
	pages  func(io.ReadSeeker) (int, error)
}

// New creates a PDF processor that runs the real tools.
func New(cfg Config) *Processor {
	return NewWithRunner(cfg, ExecRunner{})
}

// NewWithRunner creates a PDF processor with a custom command runner.
func NewWithRunner(cfg Config, runner CommandRunner) *Processor {
	if cfg.DensityThreshold <= 0 {
		cfg.DensityThreshold = DefaultDensityThreshold
	}
	if cfg.Language == "" {
		cfg.Language = DefaultOCRLanguage
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultOCRDPI
	}
	return &Processor{cfg: cfg, runner: runner, pages: pageCount}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "pdf"
}

// ContentTypes returns the MIME types this processor handles.
func (p *Processor) ContentTypes() []string {
	return []string{"application/pdf"}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 50
}

// Extract returns the document text, one block per page.
func (p *Processor) Extract(ctx context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	count, err := p.pages(bytes.NewReader(item.Content))
	if err != nil {
		return nil, p.fail(fmt.Errorf("invalid pdf: %w", err))
	}

	dir, err := os.MkdirTemp("", "sercha-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, item.Content, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp pdf: %w", err)
	}

	out, err := p.runner.Run(ctx, toolPDFToText, "-layout", "-enc", "UTF-8", input, "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, p.fail(ErrPDFToolNotFound)
		}
		return nil, p.fail(fmt.Errorf("pdftotext failed: %w", err))
	}
	pages := splitPages(string(out))

	ocr := false
	if p.cfg.OCR && density(pages, count) < p.cfg.DensityThreshold {
		ocrPages, err := p.ocr(ctx, dir, input)
		if err != nil {
			// The text layer is still usable, however thin.
			logger.Warn("pdf: OCR failed for %s: %v", item.NaturalKey, err)
		} else {
			pages, ocr = ocrPages, true
		}
	}

	text := strings.TrimSpace(strings.Join(pages, "\n\n"))

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "pdf"
	meta["page_count"] = count
	meta["ocr"] = ocr

	return &domain.Extraction{
		Text:      text,
		Title:     extractTitle(text, item),
		PageCount: count,
		Metadata:  meta,
	}, nil
}

// ocr rasterises every page and runs tesseract on each image in order.
func (p *Processor) ocr(ctx context.Context, dir, input string) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	if _, err := p.runner.Run(ctx, toolPDFToPPM, "-r", strconv.Itoa(p.cfg.DPI), "-png", input, prefix); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w", err)
	}
	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.New("pdftoppm produced no images")
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(images)

	pages := make([]string, 0, len(images))
	for _, img := range images {
		out, err := p.runner.Run(ctx, toolTesseract, img, "stdout", "-l", p.cfg.Language)
		if err != nil {
			return nil, fmt.Errorf("tesseract %s: %w", filepath.Base(img), err)
		}
		pages = append(pages, strings.TrimSpace(string(out)))
	}
	return pages, nil
}

func (p *Processor) fail(err error) error {
	return &domain.ExtractionError{Processor: p.Name(), Err: err}
}

// pageCount validates the document with pdfcpu and returns its page count.
func pageCount(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

// splitPages splits pdftotext output on form feeds.
func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	for i := range pages {
		pages[i] = strings.TrimSpace(pages[i])
	}
	return pages
}

// density returns the mean non-whitespace characters per page.
func density(pages []string, count int) float64 {
	if count <= 0 {
		count = len(pages)
	}
	if count == 0 {
		return 0
	}
	n := 0
	for _, p := range pages {
		for _, r := range p {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return float64(n) / float64(count)
}

// extractTitle uses connector metadata, then the first short line, then the key.
func extractTitle(text string, item *domain.RawItem) string {
	if t := processors.MetadataTitle(item.Metadata); t != "" {
		return t
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && len(line) < 200 && strings.IndexByte(line, 0) < 0 {
			return line
		}
	}
	return processors.TitleFromKey(item.NaturalKey)
}

// CheckAvailable reports whether pdftotext is on PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath(toolPDFToText); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions returns platform hints for the external tools.
func InstallInstructions() string {
	return `PDF extraction requires pdftotext (poppler). OCR additionally needs pdftoppm and tesseract.

  macOS:          brew install poppler tesseract
  Debian/Ubuntu:  apt install poppler-utils tesseract-ocr
  Fedora:         dnf install poppler-utils tesseract`
}

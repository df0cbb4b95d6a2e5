// Package eml provides a processor for RFC 822 email messages.
package eml

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
	"github.com/custodia-labs/sercha-ingest/internal/processors/html"
)

// Ensure Processor implements the interface.
var _ driven.Processor = (*Processor)(nil)

// ContentType is the MIME type of email messages.
const ContentType = "message/rfc822"

// maxDepth bounds nested multipart recursion.
const maxDepth = 8

// Processor extracts headers and the readable body of a message.
type Processor struct{}

// New creates an EML processor.
func New() *Processor {
	return &Processor{}
}

// Name identifies the processor.
func (p *Processor) Name() string {
	return "eml"
}

// ContentTypes returns the MIME types this processor handles.
func (p *Processor) ContentTypes() []string {
	return []string{ContentType}
}

// Priority returns the selection priority.
func (p *Processor) Priority() int {
	return 50
}

// Extract renders From, To, Date and Subject lines followed by the body.
// Plain text parts are preferred over HTML parts; attachments are skipped.
func (p *Processor) Extract(_ context.Context, item *domain.RawItem) (*domain.Extraction, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	msg, err := mail.ReadMessage(bytes.NewReader(item.Content))
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: fmt.Errorf("parse message: %w", err)}
	}

	subject := decodeHeader(msg.Header.Get("Subject"))
	from := decodeHeader(msg.Header.Get("From"))
	to := decodeHeader(msg.Header.Get("To"))
	date := msg.Header.Get("Date")

	body, err := partText(textproto.MIMEHeader(msg.Header), msg.Body, 0)
	if err != nil {
		return nil, &domain.ExtractionError{Processor: p.Name(), Err: err}
	}

	var b strings.Builder
	for _, h := range [][2]string{{"From", from}, {"To", to}, {"Date", date}, {"Subject", subject}} {
		if h[1] != "" {
			fmt.Fprintf(&b, "%s: %s\n", h[0], h[1])
		}
	}
	b.WriteString("\n")
	b.WriteString(processors.NormaliseNewlines(body))

	title := subject
	if title == "" {
		title = processors.MetadataTitle(item.Metadata)
	}
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	meta := processors.CopyMetadata(item.Metadata)
	meta["format"] = "eml"
	for k, v := range map[string]string{"from": from, "to": to, "date": date} {
		if v != "" {
			meta[k] = v
		}
	}

	return &domain.Extraction{
		Text:     strings.TrimSpace(b.String()),
		Title:    title,
		Metadata: meta,
	}, nil
}

// decodeHeader decodes RFC 2047 encoded words, keeping the raw value
// when decoding fails.
func decodeHeader(v string) string {
	if v == "" {
		return ""
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// partText returns the readable text of one entity.
func partText(h textproto.MIMEHeader, r io.Reader, depth int) (string, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxDepth {
			return "", nil
		}
		return multipartText(r, params["boundary"], depth+1)
	}

	content, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), r))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	switch mediaType {
	case "text/html":
		text, _, err := html.VisibleText(content)
		if err != nil {
			return "", err
		}
		return text, nil
	case "text/plain":
		return string(content), nil
	}
	return "", nil
}

func multipartText(r io.Reader, boundary string, depth int) (string, error) {
	if boundary == "" {
		return "", nil
	}
	mr := multipart.NewReader(r, boundary)

	var plain, rich []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read multipart: %w", err)
		}
		if isAttachment(part.Header) {
			continue
		}

		mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		// multipart.Reader decodes quoted-printable parts itself.
		text, err := partText(part.Header, part, depth)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if mediaType == "text/html" {
			rich = append(rich, text)
		} else {
			plain = append(plain, text)
		}
	}

	if len(plain) > 0 {
		return strings.Join(plain, "\n"), nil
	}
	return strings.Join(rich, "\n"), nil
}

func isAttachment(h textproto.MIMEHeader) bool {
	disp, _, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	return err == nil && disp == "attachment"
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

// buildDOCX creates a minimal package in memory. Empty parts are omitted.
func buildDOCX(t *testing.T, documentXML, coreXML string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	write := func(name, body string) {
		if body == "" {
			return
		}
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	write("[Content_Types].xml", `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`)
	write("word/document.xml", documentXML)
	write("docProps/core.xml", coreXML)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	doc := `<?xml version="1.0"?><w:document ` + wordNS + `><w:body>
<w:p><w:r><w:t>Quarterly </w:t></w:r><w:r><w:t>report</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:hyperlink><w:r><w:t>Revenue</w:t></w:r></w:hyperlink><w:r><w:tab/><w:t>42</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>cell</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
</w:body></w:document>`
	core := `<?xml version="1.0"?><cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title> Q3 Report </dc:title></cp:coreProperties>`

	out, err := New().Extract(context.Background(), &domain.RawItem{
		NaturalKey: "/docs/q3.docx",
		Content:    buildDOCX(t, doc, core),
		Metadata:   map[string]any{"size": 10},
	})
	require.NoError(t, err)

	assert.Equal(t, "Quarterly report\nRevenue\t42\ncell", out.Text)
	assert.Equal(t, "Q3 Report", out.Title)
	assert.Equal(t, "docx", out.Metadata["format"])
	assert.Equal(t, 3, out.Metadata["paragraphs"])
	assert.Equal(t, 10, out.Metadata["size"])
}

func TestExtract_TitleFromKey(t *testing.T) {
	doc := `<w:document ` + wordNS + `><w:body><w:p><w:r><w:t>hi</w:t></w:r></w:p></w:body></w:document>`

	out, err := New().Extract(context.Background(), &domain.RawItem{
		NaturalKey: "/docs/meeting_notes-2026.docx",
		Content:    buildDOCX(t, doc, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, "meeting notes 2026", out.Title)
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"not a zip", []byte("plain text")},
		{"no document part", buildDOCX(t, "", "")},
		{"broken xml", buildDOCX(t, "<w:document><w:body><w:p>", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Extract(context.Background(), &domain.RawItem{NaturalKey: "x.docx", Content: tt.content})
			var ee *domain.ExtractionError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, "docx", ee.Processor)
		})
	}
}

func TestExtract_Nil(t *testing.T) {
	_, err := New().Extract(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

package markdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestExtract(t *testing.T) {
	src := "---\nauthor: x\n---\n# Release Notes\n\nSee the [guide](https://x.io/guide) for **details**.\n\n" +
		"```go\nfmt.Println(\"hi\")\n```\n\n- first\n- second\n\n> quoted\n"

	out, err := New().Extract(context.Background(), &domain.RawItem{NaturalKey: "docs/notes.md", Content: []byte(src)})
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", out.Title)
	assert.Contains(t, out.Text, "See the guide for details.")
	assert.Contains(t, out.Text, `fmt.Println("hi")`)
	assert.Contains(t, out.Text, "first\nsecond")
	assert.Contains(t, out.Text, "quoted")
	assert.NotContains(t, out.Text, "author")
	assert.NotContains(t, out.Text, "```")
	assert.NotContains(t, out.Text, "#")
	assert.Equal(t, "markdown", out.Metadata["format"])
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"first h1", "intro\n# Title\n# Other", "Title"},
		{"h2 ignored", "## Sub\ntext", ""},
		{"inside fence ignored", "```\n# not a title\n```\n# Real", "Real"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTitle(tt.content))
		})
	}
}

func TestExtract_TitleFallsBackToKey(t *testing.T) {
	out, err := New().Extract(context.Background(), &domain.RawItem{NaturalKey: "team_handbook.md", Content: []byte("no heading")})
	require.NoError(t, err)
	assert.Equal(t, "team handbook", out.Title)
}

func TestStrip_KeepsSnakeCase(t *testing.T) {
	assert.Equal(t, "use max_retries here", Strip("use `max_retries` here"))
}

func TestExtract_Nil(t *testing.T) {
	_, err := New().Extract(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	var (
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      "tiny",
			"created_at": "2026-10-16T10:00:00Z",
			"message":    map[string]string{"role": "assistant", "content": "Noon [2]"},
			"done":       true,
		})
	}))
	defer srv.Close()

	// The /v1 suffix of an OpenAI-compatible URL is tolerated.
	g, err := New(Config{BaseURL: srv.URL + "/v1/", Model: "tiny"})
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "When is lunch?", "[2] calendar lunch at noon", nil)
	require.NoError(t, err)
	assert.Equal(t, "Noon [2]", answer)
	assert.Equal(t, "/api/chat", path)
	assert.Contains(t, body, "When is lunch?")
	assert.Contains(t, body, `"model":"tiny"`)
}

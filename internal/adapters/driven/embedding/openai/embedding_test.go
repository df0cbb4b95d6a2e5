package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, m.ModelName())
	assert.Equal(t, DefaultDimensions, m.Dimensions())
	assert.False(t, m.Reentrant())
	assert.NoError(t, m.Close())
}

func TestEmbedBatch(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "e5", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Object: "embedding", Index: i, Embedding: []float32{float32(i + 1), 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	m, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "e5", Dimensions: 2})
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{2, 0}, vecs[1])
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestEmbedBatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	m, err := New(Config{BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	_, err = m.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}

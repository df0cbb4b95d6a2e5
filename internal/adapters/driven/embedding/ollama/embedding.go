// Package ollama provides an embedding model adapter for a local Ollama
// server, built on langchaingo.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

var _ driven.EmbeddingModel = (*Model)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "paraphrase-multilingual"
	DefaultTimeout    = 60 * time.Second
	DefaultDimensions = 768
)

// Config holds configuration for the Ollama embedding model.
type Config struct {
	// BaseURL is the server root; a trailing /v1 is dropped.
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Dimensions int
}

// Model embeds text through Ollama. The server queues concurrent
// requests, so the model is reentrant.
type Model struct {
	embedder   embeddings.Embedder
	httpClient *http.Client
	model      string
	dimensions int
}

// New creates an Ollama embedding model.
func New(cfg Config) (*Model, error) {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	client, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(hc),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &Model{embedder: embedder, httpClient: hc, model: cfg.Model, dimensions: cfg.Dimensions}, nil
}

// EmbedBatch embeds texts in order.
func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

func (m *Model) Dimensions() int   { return m.dimensions }
func (m *Model) ModelName() string { return m.model }
func (m *Model) Reentrant() bool   { return true }

// Close drops idle keep-alive connections.
func (m *Model) Close() error {
	m.httpClient.CloseIdleConnections()
	return nil
}

// Package openai provides an embedding model adapter for OpenAI-compatible
// endpoints, built on langchaingo.
package openai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Model implements the interface.
var _ driven.EmbeddingModel = (*Model)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:8080/v1"
	DefaultModel      = "multilingual-e5-base"
	DefaultDimensions = 768
)

// Config holds configuration for the OpenAI-compatible embedding model.
type Config struct {
	// BaseURL is the API base URL including the /v1 suffix.
	BaseURL string

	// APIKey is sent as a bearer token. Local servers accept any value.
	APIKey string

	// Model is the embedding model to use.
	Model string

	// Dimensions is the expected embedding vector size.
	Dimensions int

	// Reentrant marks the server as safe for concurrent requests.
	Reentrant bool
}

// Model generates embeddings through a langchaingo embedder.
type Model struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	reentrant  bool
}

// New creates an OpenAI-compatible embedding model.
func New(cfg Config) (*Model, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.APIKey == "" {
		// langchaingo refuses an empty token
		cfg.APIKey = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Model{
		embedder:   embedder,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		reentrant:  cfg.Reentrant,
	}, nil
}

// EmbedBatch embeds texts in order.
func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions returns the configured vector size.
func (m *Model) Dimensions() int {
	return m.dimensions
}

// ModelName returns the name of the embedding model being used.
func (m *Model) ModelName() string {
	return m.model
}

// Reentrant reports whether concurrent calls are allowed.
func (m *Model) Reentrant() bool {
	return m.reentrant
}

// Close releases resources.
func (m *Model) Close() error {
	return nil
}

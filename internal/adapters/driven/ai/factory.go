// Package ai builds the embedding model and answer generator selected by
// configuration.
package ai

import (
	"fmt"

	ollamaembed "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/sercha-ingest/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Provider names accepted in configuration.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewEmbeddingModel creates the embedding model for cfg.Provider.
func NewEmbeddingModel(cfg config.EmbeddingConfig) (driven.EmbeddingModel, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		m, err := ollamaembed.New(ollamaembed.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		return m, nil

	case ProviderOpenAI:
		m, err := openaiembed.New(openaiembed.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Reentrant:  cfg.Concurrency > 1,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		return m, nil

	case ProviderAnthropic:
		// Anthropic does not offer embeddings.
		return nil, fmt.Errorf("%w: anthropic does not support embeddings, use ollama or openai", domain.ErrInvalidInput)

	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}

// NewAnswerGenerator creates the answer generator for cfg.Provider.
func NewAnswerGenerator(cfg config.LLMConfig) (driven.AnswerGenerator, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return openaillm.New(openaillm.Config{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})

	case ProviderOllama:
		return ollamallm.New(ollamallm.Config{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})

	case ProviderAnthropic:
		return anthropicllm.New(anthropicllm.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported llm provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}

// Package openai provides an answer generator for OpenAI-compatible chat
// endpoints, built on langchaingo.
package openai

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/llm"
)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "llama3.1"
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the answer generator.
type Config struct {
	// BaseURL is the API base URL including the /v1 suffix.
	BaseURL string

	// APIKey is sent as a bearer token. Local servers accept any value.
	APIKey string

	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// New creates a generator.
func New(cfg Config) (*llm.Generator, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return llm.NewGenerator(client, llm.Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}), nil
}

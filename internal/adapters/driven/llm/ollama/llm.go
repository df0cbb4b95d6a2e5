// Package ollama provides an answer generator backed by Ollama's native
// chat API.
package ollama

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/llm"
)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Ollama generator.
type Config struct {
	// BaseURL is the server root. A trailing /v1 left over from an
	// OpenAI-compatible setting is dropped.
	BaseURL string

	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// New creates a generator.
func New(cfg Config) (*llm.Generator, error) {
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
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", cfg.BaseURL, err)
	}

	client, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return llm.NewGenerator(client, llm.Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}), nil
}

// Package anthropic provides an answer generator backed by the Anthropic
// Messages API.
package anthropic

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/llm"
)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultModel     = "claude-3-5-sonnet-latest"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 1024
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("anthropic: api key is required")

// Config holds configuration for the Anthropic generator.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL is the API base URL including the /v1 suffix.
	BaseURL string

	Model   string
	Timeout time.Duration

	Temperature float64
	// MaxTokens is required by the API; zero selects DefaultMaxTokens.
	MaxTokens int
}

// New creates a generator.
func New(cfg Config) (*llm.Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	client, err := anthropic.New(
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithBaseURL(cfg.BaseURL),
		anthropic.WithModel(cfg.Model),
		anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return llm.NewGenerator(client, llm.Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}), nil
}

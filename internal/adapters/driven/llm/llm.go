// Package llm holds the answer generation shared by the provider
// adapters. Each provider package builds a langchaingo model and wraps it
// in a Generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Generator implements the interface.
var _ driven.AnswerGenerator = (*Generator)(nil)

// SystemPrompt instructs the model to answer from numbered context only.
const SystemPrompt = `You answer questions using only the numbered context blocks provided.
Cite the blocks you use as [n]. If the context does not contain the answer, say so.`

// DefaultTemperature keeps answers close to the context.
const DefaultTemperature = 0.2

// Options tune a generation call.
type Options struct {
	Temperature float64
	// MaxTokens caps the answer length. Zero leaves the provider default.
	MaxTokens int
}

// Generator answers questions over retrieved context.
type Generator struct {
	model llms.Model
	opts  Options
}

// NewGenerator wraps model.
func NewGenerator(model llms.Model, opts Options) *Generator {
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	return &Generator{model: model, opts: opts}
}

// Generate answers question from contextText. When onToken is set the
// answer is streamed to it as it arrives.
func (g *Generator) Generate(ctx context.Context, question, contextText string, onToken func(string)) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, Prompt(question, contextText)),
	}
	opts := []llms.CallOption{llms.WithTemperature(g.opts.Temperature)}
	if g.opts.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.opts.MaxTokens))
	}
	if onToken != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			onToken(string(chunk))
			return nil
		}))
	}

	resp, err := g.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("generating answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generating answer: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Prompt renders the user turn.
func Prompt(question, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		contextText = "(no context found)"
	}
	return "Context:\n" + contextText + "\n\nQuestion: " + question
}

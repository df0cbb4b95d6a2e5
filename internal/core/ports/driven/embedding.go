package driven

import "context"

// EmbeddingModel is the long-lived model handle shared by every tenant.
// It is created once at process start and passed by reference.
//
// Implementations may include:
//   - Ollama (paraphrase-multilingual, nomic-embed-text)
//   - OpenAI-compatible inference servers (multilingual-e5-base)
type EmbeddingModel interface {
	// EmbedBatch generates one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the configured vector size.
	Dimensions() int

	// ModelName returns the name of the model being used.
	ModelName() string

	// Reentrant reports whether concurrent EmbedBatch calls are safe.
	// Non-reentrant models are serialised by the caller.
	Reentrant() bool

	// Close releases resources.
	Close() error
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// AnswerGenerator consumes assembled retrieval context.
// onToken receives streamed output; it may be nil.
type AnswerGenerator interface {
	Generate(ctx context.Context, question, context string, onToken func(string)) (string, error)
}

// Package transcription provides a connector that turns a directory of
// audio recordings into text items through a Transcriber.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/custodia-labs/sercha-ingest/internal/connectors"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// DefaultPatterns matches common audio formats.
var DefaultPatterns = []string{"*.mp3", "*.wav", "*.m4a", "*.ogg", "*.flac", "*.webm", "*.mp4"}

// DefaultMaxFileSize matches the upload limit of hosted transcription APIs.
const DefaultMaxFileSize = 25 << 20

// Connector transcribes every matching audio file under a root.
type Connector struct {
	root        string
	patterns    []string
	maxFileSize int64
	retry       fetch.RetryPolicy
	transcriber driven.Transcriber
}

// New creates a transcription connector. Params: patterns, max_file_size,
// max_attempts.
func New(root string, params connectors.Params, t driven.Transcriber) (*Connector, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: no transcriber configured", domain.ErrInvalidInput)
	}
	maxSize, err := params.Int("max_file_size", DefaultMaxFileSize)
	if err != nil {
		return nil, err
	}
	attempts, err := params.Int("max_attempts", 0)
	if err != nil {
		return nil, err
	}
	patterns := params.List("patterns")
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Connector{
		root:        root,
		patterns:    patterns,
		maxFileSize: int64(maxSize),
		retry:       fetch.RetryPolicy{MaxAttempts: attempts},
		transcriber: t,
	}, nil
}

// Builder returns the ConnectorBuilder for transcription sources bound to t.
func Builder(t driven.Transcriber) driven.ConnectorBuilder {
	return func(source domain.Source, _ driven.Credentials) (driven.Connector, error) {
		return New(source.Location, source.Params, t)
	}
}

// Kind returns the connector kind.
func (c *Connector) Kind() domain.ConnectorKind {
	return domain.ConnectorTranscription
}

// Validate checks the root is a directory.
func (c *Connector) Validate(_ context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectorValidation, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrConnectorValidation, c.root)
	}
	return nil
}

// Fetch transcribes files one at a time in lexical order.
func (c *Connector) Fetch(ctx context.Context) (<-chan domain.RawItem, <-chan error) {
	items := make(chan domain.RawItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		opts := connectors.WalkOptions{Patterns: c.patterns}
		err := connectors.Walk(ctx, c.root, opts, func(rel, abs string, d fs.DirEntry) error {
			item := c.transcribe(ctx, rel, abs, d)
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case items <- item:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()

	return items, errs
}

func (c *Connector) transcribe(ctx context.Context, rel, abs string, d fs.DirEntry) domain.RawItem {
	item := domain.RawItem{NaturalKey: rel}

	info, err := d.Info()
	if err != nil {
		item.Err = &domain.TerminalItemError{ItemKey: rel, Err: err}
		return item
	}
	if info.Size() > c.maxFileSize {
		item.Err = &domain.TerminalItemError{
			ItemKey: rel,
			Err:     fmt.Errorf("audio is %d bytes, limit %d", info.Size(), c.maxFileSize),
		}
		return item
	}
	audio, err := os.ReadFile(abs)
	if err != nil {
		item.Err = &domain.TerminalItemError{ItemKey: rel, Err: err}
		return item
	}

	var text string
	err = fetch.Retry(ctx, c.retry, func(ctx context.Context) error {
		var terr error
		text, terr = c.transcriber.Transcribe(ctx, d.Name(), audio)
		return terr
	})
	if err != nil {
		if !domain.IsItemScoped(err) {
			err = &domain.TerminalItemError{ItemKey: rel, Err: err}
		}
		item.Err = err
		return item
	}

	item.ContentType = "text/plain"
	item.Content = []byte(text)
	item.Metadata = map[string]any{
		"path":       abs,
		"audio_size": info.Size(),
		"modified":   info.ModTime().UTC(),
	}
	return item
}

// Close releases resources.
func (c *Connector) Close() error {
	return nil
}

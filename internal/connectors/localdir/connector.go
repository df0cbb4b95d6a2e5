// Package localdir provides a connector that walks a local directory.
package localdir

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

// DefaultMaxFileSize skips files larger than 64 MiB.
const DefaultMaxFileSize = 64 << 20

// Connector reads every matching file under a root directory.
type Connector struct {
	root          string
	patterns      []string
	includeHidden bool
	maxFileSize   int64
}

// New creates a localdir connector. Params: patterns, include_hidden,
// max_file_size.
func New(root string, params connectors.Params) (*Connector, error) {
	hidden, err := params.Bool("include_hidden", false)
	if err != nil {
		return nil, err
	}
	maxSize, err := params.Int("max_file_size", DefaultMaxFileSize)
	if err != nil {
		return nil, err
	}
	return &Connector{
		root:          root,
		patterns:      params.List("patterns"),
		includeHidden: hidden,
		maxFileSize:   int64(maxSize),
	}, nil
}

// Build is the ConnectorBuilder for localdir sources.
func Build(source domain.Source, _ driven.Credentials) (driven.Connector, error) {
	return New(source.Location, source.Params)
}

// Kind returns the connector kind.
func (c *Connector) Kind() domain.ConnectorKind {
	return domain.ConnectorLocalDir
}

// Validate checks the root exists and is a readable directory.
func (c *Connector) Validate(_ context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectorValidation, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrConnectorValidation, c.root)
	}
	if _, err := os.ReadDir(c.root); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectorValidation, err)
	}
	return nil
}

// Fetch walks the directory in lexical order.
func (c *Connector) Fetch(ctx context.Context) (<-chan domain.RawItem, <-chan error) {
	items := make(chan domain.RawItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		opts := connectors.WalkOptions{Patterns: c.patterns, IncludeHidden: c.includeHidden}
		err := connectors.Walk(ctx, c.root, opts, func(rel, abs string, d fs.DirEntry) error {
			item := c.read(rel, abs, d)
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

func (c *Connector) read(rel, abs string, d fs.DirEntry) domain.RawItem {
	item := domain.RawItem{NaturalKey: rel}

	info, err := d.Info()
	if err != nil {
		item.Err = &domain.TerminalItemError{ItemKey: rel, Err: err}
		return item
	}
	if info.Size() > c.maxFileSize {
		item.Err = &domain.TerminalItemError{
			ItemKey: rel,
			Err:     fmt.Errorf("file is %d bytes, limit %d", info.Size(), c.maxFileSize),
		}
		return item
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		item.Err = &domain.TerminalItemError{ItemKey: rel, Err: err}
		return item
	}

	item.Content = content
	item.ContentType = fetch.ContentType("", rel, content)
	item.Metadata = map[string]any{
		"path":     abs,
		"size":     info.Size(),
		"modified": info.ModTime().UTC(),
	}
	return item
}

// Close releases resources.
func (c *Connector) Close() error {
	return nil
}

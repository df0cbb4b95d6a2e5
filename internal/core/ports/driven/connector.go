package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Connector fetches raw items from one Source.
// Each connector kind (localdir, urllist, database, ...) implements this interface.
type Connector interface {
	// Kind returns the connector kind.
	Kind() domain.ConnectorKind

	// Validate checks the source is reachable and configured.
	// A failure here aborts the job before any item is fetched.
	Validate(ctx context.Context) error

	// Fetch streams every item of the source. Per-item failures arrive as
	// items with Err set. A connector-level failure is sent on the error
	// channel. Both channels are closed when the sequence ends.
	// Calling Fetch again restarts the sequence from the beginning.
	Fetch(ctx context.Context) (<-chan domain.RawItem, <-chan error)

	// Close releases resources.
	Close() error
}

// Credentials are resolved connector secrets, handed to builders only.
type Credentials struct {
	// Secret is the resolved secret (DSN, token, API key).
	Secret string
}

// ConnectorBuilder creates a Connector for a Source.
// Params already include the merged ConnectorDefinition params.
type ConnectorBuilder func(source domain.Source, creds Credentials) (Connector, error)

// ConnectorFactory creates connectors from sources.
type ConnectorFactory interface {
	// Create returns a Connector for the given source.
	// Returns ErrUnsupportedType if the kind is unknown.
	Create(ctx context.Context, source domain.Source) (Connector, error)

	// Register adds a builder for a kind.
	Register(kind domain.ConnectorKind, builder ConnectorBuilder)

	// SupportedKinds returns all registered kinds.
	SupportedKinds() []domain.ConnectorKind
}

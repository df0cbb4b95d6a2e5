package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// DefinitionRequest creates or updates a ConnectorDefinition.
// Secret is sealed before it reaches the store; CredentialsRef is stored as is.
type DefinitionRequest struct {
	Name           string
	Kind           domain.ConnectorKind
	Params         map[string]string
	CredentialsRef string
	Secret         []byte
}

// SourceService manages sources and connector definitions.
type SourceService interface {
	ListSources(ctx context.Context, tenant domain.TenantID) ([]domain.Source, error)
	RemoveSource(ctx context.Context, tenant domain.TenantID, id string) error
	ListDocuments(ctx context.Context, tenant domain.TenantID, sourceID string) ([]domain.Document, error)

	SaveDefinition(ctx context.Context, tenant domain.TenantID, req DefinitionRequest) (*domain.ConnectorDefinition, error)
	ListDefinitions(ctx context.Context, tenant domain.TenantID) ([]domain.ConnectorDefinition, error)
	RemoveDefinition(ctx context.Context, tenant domain.TenantID, id string) error
}

package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Ensure SourceService implements the interface.
var _ driving.SourceService = (*SourceService)(nil)

// SourceService manages sources and connector definitions.
type SourceService struct {
	store  driven.Store
	sealer driven.Sealer
}

// NewSourceService creates a source service. sealer may be nil, in which
// case definitions cannot carry inline secrets.
func NewSourceService(store driven.Store, sealer driven.Sealer) *SourceService {
	return &SourceService{store: store, sealer: sealer}
}

// ListSources returns live sources.
func (s *SourceService) ListSources(ctx context.Context, tenant domain.TenantID) ([]domain.Source, error) {
	return s.store.ListSources(ctx, tenant)
}

// RemoveSource soft-deletes a source without an active job. Its documents
// stay stored but disappear from retrieval.
func (s *SourceService) RemoveSource(ctx context.Context, tenant domain.TenantID, id string) error {
	for _, status := range []domain.JobStatus{domain.JobPending, domain.JobRunning} {
		jobs, err := s.store.ListJobs(ctx, tenant, domain.JobFilter{SourceID: id, Status: status, Limit: 1})
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(jobs) > 0 {
			return &domain.ConflictError{SourceID: id, ActiveJobID: jobs[0].ID}
		}
	}
	return s.store.SoftDeleteSource(ctx, tenant, id)
}

// ListDocuments returns the documents of one live source.
func (s *SourceService) ListDocuments(ctx context.Context, tenant domain.TenantID, sourceID string) ([]domain.Document, error) {
	src, err := s.store.GetSource(ctx, tenant, sourceID)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", sourceID, err)
	}
	if src.IsDeleted() {
		return nil, fmt.Errorf("source %s: %w", sourceID, domain.ErrNotFound)
	}
	return s.store.ListDocuments(ctx, tenant, sourceID)
}

// SaveDefinition creates or updates a named connector definition. An
// inline secret is sealed and never stored in plaintext.
func (s *SourceService) SaveDefinition(ctx context.Context, tenant domain.TenantID,
	req driving.DefinitionRequest) (*domain.ConnectorDefinition, error) {
	if err := domain.RequireTenant(tenant); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: definition name required", domain.ErrInvalidInput)
	}
	if !slices.Contains(domain.ConnectorKinds(), req.Kind) {
		return nil, fmt.Errorf("%w: connector kind %q", domain.ErrUnsupportedType, req.Kind)
	}
	if req.CredentialsRef != "" && len(req.Secret) > 0 {
		return nil, fmt.Errorf("%w: use either a credentials reference or a secret", domain.ErrInvalidInput)
	}

	def := &domain.ConnectorDefinition{
		Name:           name,
		Kind:           req.Kind,
		Params:         req.Params,
		CredentialsRef: req.CredentialsRef,
	}
	if len(req.Secret) > 0 {
		if s.sealer == nil {
			return nil, fmt.Errorf("sealing secret: %w", domain.ErrCredentialsUnavailable)
		}
		sealed, err := s.sealer.Seal(req.Secret)
		clear(req.Secret)
		if err != nil {
			return nil, fmt.Errorf("sealing secret: %w", err)
		}
		def.SealedCredentials = sealed
	}

	if err := s.store.SaveConnectorDefinition(ctx, tenant, def); err != nil {
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns definitions ordered by name.
func (s *SourceService) ListDefinitions(ctx context.Context, tenant domain.TenantID) ([]domain.ConnectorDefinition, error) {
	return s.store.ListConnectorDefinitions(ctx, tenant)
}

// RemoveDefinition deletes a definition no live source references.
func (s *SourceService) RemoveDefinition(ctx context.Context, tenant domain.TenantID, id string) error {
	return s.store.DeleteConnectorDefinition(ctx, tenant, id)
}

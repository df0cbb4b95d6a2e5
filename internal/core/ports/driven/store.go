package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Store owns every persisted entity. Each method takes the tenant as its
// first domain argument and returns domain.ErrMissingTenant when it is
// empty. No method reads or writes rows of another tenant.
type Store interface {
	SourceStore
	DefinitionStore
	JobStore
	DocumentStore
	SearchStore

	// Close releases the underlying connections.
	Close() error
}

// SourceStore persists Sources.
type SourceStore interface {
	// GetOrCreateSource is idempotent on (tenant, location) and reactivates
	// a soft-deleted source.
	GetOrCreateSource(ctx context.Context, tenant domain.TenantID, spec domain.SourceSpec) (*domain.Source, error)

	GetSource(ctx context.Context, tenant domain.TenantID, id string) (*domain.Source, error)

	// ListSources excludes soft-deleted sources.
	ListSources(ctx context.Context, tenant domain.TenantID) ([]domain.Source, error)

	SoftDeleteSource(ctx context.Context, tenant domain.TenantID, id string) error

	SaveSyncState(ctx context.Context, tenant domain.TenantID, sourceID, state string) error
}

// DefinitionStore persists ConnectorDefinitions.
type DefinitionStore interface {
	SaveConnectorDefinition(ctx context.Context, tenant domain.TenantID, def *domain.ConnectorDefinition) error
	GetConnectorDefinition(ctx context.Context, tenant domain.TenantID, id string) (*domain.ConnectorDefinition, error)
	ListConnectorDefinitions(ctx context.Context, tenant domain.TenantID) ([]domain.ConnectorDefinition, error)

	// DeleteConnectorDefinition returns domain.ErrInUse while a live source references it.
	DeleteConnectorDefinition(ctx context.Context, tenant domain.TenantID, id string) error
}

// JobStore persists Jobs and their logs.
type JobStore interface {
	// CreateJob inserts a pending job. Returns *domain.ConflictError when
	// the source already has an active job.
	CreateJob(ctx context.Context, tenant domain.TenantID, sourceID, retryOf string) (*domain.Job, error)

	GetJob(ctx context.Context, tenant domain.TenantID, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error)

	// StartJob moves pending -> running and sets started_at.
	StartJob(ctx context.Context, tenant domain.TenantID, id string) (*domain.Job, error)

	// UpdateJobStatus moves a job to a terminal state.
	// Returns domain.ErrInvalidTransition for illegal edges.
	UpdateJobStatus(ctx context.Context, tenant domain.TenantID, id string, status domain.JobStatus, errMsg string) error

	UpdateJobProgress(ctx context.Context, tenant domain.TenantID, id string, counters domain.JobCounters) error

	RequestJobCancel(ctx context.Context, tenant domain.TenantID, id string) error
	IsJobCancelRequested(ctx context.Context, tenant domain.TenantID, id string) (bool, error)

	AppendJobLog(ctx context.Context, tenant domain.TenantID, entry domain.JobLogEntry) error
	ListJobLog(ctx context.Context, tenant domain.TenantID, jobID string) ([]domain.JobLogEntry, error)
}

// DocumentStore persists Documents, versions and chunks.
type DocumentStore interface {
	// UpsertDocumentVersion allocates version = previous + 1 and commits a
	// staged version row.
	UpsertDocumentVersion(ctx context.Context, tenant domain.TenantID, sourceID, naturalKey string,
		snap domain.VersionSnapshot) (*domain.Document, *domain.DocumentVersion, error)

	// InsertChunks bulk inserts chunks into a staged version.
	// Returns *domain.SourceNotFoundError when the version is not committed.
	InsertChunks(ctx context.Context, tenant domain.TenantID, versionID string, chunks []domain.Chunk) error

	// PromoteVersion makes the version current and deletes the previous
	// version's chunks in one transaction.
	PromoteVersion(ctx context.Context, tenant domain.TenantID, versionID string) error

	// DiscardVersion removes a staged version and its chunks.
	DiscardVersion(ctx context.Context, tenant domain.TenantID, versionID string) error

	// DiscardStagedVersions removes every staged version written by a job.
	DiscardStagedVersions(ctx context.Context, tenant domain.TenantID, jobID string) (int, error)

	GetDocument(ctx context.Context, tenant domain.TenantID, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, tenant domain.TenantID, sourceID string) ([]domain.Document, error)

	// ListChunks returns the current version's chunks in ordinal order.
	ListChunks(ctx context.Context, tenant domain.TenantID, documentID string) ([]domain.Chunk, error)
}

// SearchStore ranks chunks.
type SearchStore interface {
	// Search returns up to K chunks of current versions ordered by ascending
	// cosine distance, ties broken by newest version then lowest ordinal.
	// A non-empty HybridText fuses a lexical ranking by reciprocal rank.
	Search(ctx context.Context, tenant domain.TenantID, q domain.SearchQuery) ([]domain.RankedChunk, error)
}

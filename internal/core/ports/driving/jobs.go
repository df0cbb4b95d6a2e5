package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// SubmitRequest describes an ingestion request.
// Plaintext secrets are never accepted here; credentials come from the
// referenced ConnectorDefinition.
type SubmitRequest struct {
	Kind         domain.ConnectorKind
	Location     string
	DefinitionID string
	Params       map[string]string
}

// JobService submits and controls ingestion jobs.
type JobService interface {
	// Submit commits the Source and a pending Job, hands the job to a
	// worker and returns it. Returns *domain.ConflictError when the source
	// already has an active job.
	Submit(ctx context.Context, tenant domain.TenantID, req SubmitRequest) (*domain.Job, error)

	// Status returns the current job row.
	Status(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error)

	// Logs returns the job's structured log.
	Logs(ctx context.Context, tenant domain.TenantID, jobID string) ([]domain.JobLogEntry, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error)

	// Cancel requests cooperative cancellation. Pending jobs are cancelled
	// immediately.
	Cancel(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error)

	// Retry creates a new job for the source of a failed or cancelled job.
	Retry(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error)

	// Wait blocks until the job reaches a terminal state.
	Wait(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error)

	// Recover fails jobs left running by a dead process and discards their
	// staged versions. Returns the recovered job IDs.
	Recover(ctx context.Context, tenant domain.TenantID) ([]string, error)
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

const jobColumns = `id, tenant_id, source_id, status, retry_of, items_seen, items_processed, items_skipped,
	chunks_written, last_error, cancel_requested, created_at, started_at, finished_at`

// CreateJob inserts a pending job for a live source.
func (s *Store) CreateJob(ctx context.Context, tenant domain.TenantID, sourceID, retryOf string) (*domain.Job, error) {
	var job *domain.Job
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		var deleted *time.Time
		row, err := sc.queryRow(ctx, `SELECT deleted_at FROM sources WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, sourceID)
		if err != nil {
			return err
		}
		if err := row.Scan(&deleted); err != nil {
			if notFound(err) {
				return &domain.SourceNotFoundError{Entity: "source", ID: sourceID}
			}
			return fmt.Errorf("checking source: %w", err)
		}
		if deleted != nil {
			return &domain.SourceNotFoundError{Entity: "source", ID: sourceID}
		}

		// A failed statement aborts a postgres transaction, so the active
		// slot is claimed with DO NOTHING instead of catching the violation.
		id := ulid.Make().String()
		tag, err := sc.exec(ctx, `
			INSERT INTO ingestion_jobs (id, tenant_id, source_id, status, retry_of, created_at)
			VALUES ($2, $1, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, source_id) WHERE status IN ('pending', 'running') DO NOTHING
		`, id, sourceID, string(domain.JobPending), retryOf, now())
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConflictError{SourceID: sourceID}
			}
			return fmt.Errorf("inserting job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &domain.ConflictError{SourceID: sourceID, ActiveJobID: activeJobID(ctx, sc, sourceID)}
		}

		job, err = getJob(ctx, sc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func activeJobID(ctx context.Context, sc *scope, sourceID string) string {
	row, err := sc.queryRow(ctx, `
		SELECT id FROM ingestion_jobs
		WHERE tenant_id = $1 AND source_id = $2 AND status IN ('pending', 'running')
	`, sourceID)
	if err != nil {
		return ""
	}
	var id string
	if err := row.Scan(&id); err != nil {
		return ""
	}
	return id
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, tenant domain.TenantID, id string) (*domain.Job, error) {
	var job *domain.Job
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		var err error
		job, err = getJob(ctx, sc, id)
		return err
	})
	return job, err
}

func getJob(ctx context.Context, sc *scope, id string) (*domain.Job, error) {
	row, err := sc.queryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE tenant_id = $1 AND id = $2`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  []any
	)
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		where = append(where, fmt.Sprintf("source_id = $%d", len(args)+1))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT %s FROM ingestion_jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		jobColumns, strings.Join(where, " AND "), len(args)+1)

	var jobs []domain.Job
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("querying jobs: %w", err)
		}
		jobs, err = collect(rows, scanJob)
		return err
	})
	return jobs, err
}

// StartJob moves a pending job to running.
func (s *Store) StartJob(ctx context.Context, tenant domain.TenantID, id string) (*domain.Job, error) {
	var job *domain.Job
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		tag, err := sc.exec(ctx, `
			UPDATE ingestion_jobs SET status = 'running', started_at = $3
			WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
		`, id, now())
		if err != nil {
			return fmt.Errorf("starting job: %w", err)
		}
		job, err = getJob(ctx, sc, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrInvalidTransition)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobStatus moves a job to a terminal state.
func (s *Store) UpdateJobStatus(ctx context.Context, tenant domain.TenantID, id string, status domain.JobStatus, errMsg string) error {
	var from []string
	for _, st := range []domain.JobStatus{domain.JobPending, domain.JobRunning} {
		if domain.CanTransition(st, status) {
			from = append(from, string(st))
		}
	}

	return s.inTx(ctx, tenant, func(sc *scope) error {
		if !status.IsTerminal() {
			return fmt.Errorf("%w: %s is not a terminal state", domain.ErrInvalidTransition, status)
		}
		tag, err := sc.exec(ctx, `
			UPDATE ingestion_jobs SET status = $3, last_error = $4, finished_at = $5
			WHERE tenant_id = $1 AND id = $2 AND status = ANY($6)
		`, id, string(status), errMsg, now(), from)
		if err != nil {
			return fmt.Errorf("updating job status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			current, err := getJob(ctx, sc, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("job %s %s -> %s: %w", id, current.Status, status, domain.ErrInvalidTransition)
		}
		return nil
	})
}

// UpdateJobProgress stores the job's counters.
func (s *Store) UpdateJobProgress(ctx context.Context, tenant domain.TenantID, id string, c domain.JobCounters) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		tag, err := sc.exec(ctx, `
			UPDATE ingestion_jobs
			SET items_seen = $3, items_processed = $4, items_skipped = $5, chunks_written = $6
			WHERE tenant_id = $1 AND id = $2
		`, id, c.ItemsSeen, c.ItemsProcessed, c.ItemsSkipped, c.ChunksWritten)
		if err != nil {
			return fmt.Errorf("updating job progress: %w", err)
		}
		return affected(tag)
	})
}

// RequestJobCancel flags an active job for cancellation.
func (s *Store) RequestJobCancel(ctx context.Context, tenant domain.TenantID, id string) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		tag, err := sc.exec(ctx, `
			UPDATE ingestion_jobs SET cancel_requested = TRUE
			WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'running')
		`, id)
		if err != nil {
			return fmt.Errorf("requesting cancel: %w", err)
		}
		if tag.RowsAffected() == 0 {
			job, err := getJob(ctx, sc, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrInvalidTransition)
		}
		return nil
	})
}

// IsJobCancelRequested reports the persisted cancel flag.
func (s *Store) IsJobCancelRequested(ctx context.Context, tenant domain.TenantID, id string) (bool, error) {
	var flag bool
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		row, err := sc.queryRow(ctx, `SELECT cancel_requested FROM ingestion_jobs WHERE tenant_id = $1 AND id = $2`, id)
		if err != nil {
			return err
		}
		if err := row.Scan(&flag); err != nil {
			if notFound(err) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("reading cancel flag: %w", err)
		}
		return nil
	})
	return flag, err
}

// AppendJobLog adds a log line to one of the tenant's jobs.
func (s *Store) AppendJobLog(ctx context.Context, tenant domain.TenantID, e domain.JobLogEntry) error {
	if e.At.IsZero() {
		e.At = now()
	}
	if e.Level == "" {
		e.Level = domain.LogInfo
	}
	return s.inTx(ctx, tenant, func(sc *scope) error {
		tag, err := sc.exec(ctx, `
			INSERT INTO job_log (tenant_id, job_id, level, item_key, message, created_at)
			SELECT tenant_id, id, $3, $4, $5, $6 FROM ingestion_jobs WHERE tenant_id = $1 AND id = $2
		`, e.JobID, string(e.Level), e.ItemKey, e.Message, e.At)
		if err != nil {
			return fmt.Errorf("appending job log: %w", err)
		}
		return affected(tag)
	})
}

// ListJobLog returns a job's log in insertion order.
func (s *Store) ListJobLog(ctx context.Context, tenant domain.TenantID, jobID string) ([]domain.JobLogEntry, error) {
	var entries []domain.JobLogEntry
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, `
			SELECT id, job_id, level, item_key, message, created_at
			FROM job_log WHERE tenant_id = $1 AND job_id = $2
			ORDER BY id
		`, jobID)
		if err != nil {
			return fmt.Errorf("querying job log: %w", err)
		}
		entries, err = collect(rows, func(row pgx.Row) (*domain.JobLogEntry, error) {
			var (
				e     domain.JobLogEntry
				level string
			)
			if err := row.Scan(&e.ID, &e.JobID, &level, &e.ItemKey, &e.Message, &e.At); err != nil {
				return nil, fmt.Errorf("scanning job log: %w", err)
			}
			e.Level = domain.LogLevel(level)
			e.At = e.At.UTC()
			return &e, nil
		})
		return err
	})
	return entries, err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job      domain.Job
		tenant   string
		status   string
		started  *time.Time
		finished *time.Time
	)
	if err := row.Scan(&job.ID, &tenant, &job.SourceID, &status, &job.RetryOf,
		&job.Counters.ItemsSeen, &job.Counters.ItemsProcessed, &job.Counters.ItemsSkipped,
		&job.Counters.ChunksWritten, &job.LastError, &job.CancelRequested, &job.CreatedAt, &started, &finished); err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	job.TenantID = domain.TenantID(tenant)
	job.Status = domain.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = utc(started)
	job.FinishedAt = utc(finished)
	return &job, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// ==================== Jobs ====================

const jobColumns = `id, tenant_id, source_id, status, retry_of, items_seen, items_processed, items_skipped,
	chunks_written, last_error, cancel_requested, created_at, started_at, finished_at`

// CreateJob inserts a pending job for a live source.
func (s *Store) CreateJob(ctx context.Context, tenant domain.TenantID, sourceID, retryOf string) (*domain.Job, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}

	var job *domain.Job
	err = s.inTx(ctx, sc, func(tx *scope) error {
		var deleted sql.NullTime
		row, err := tx.queryRow(ctx, `SELECT deleted_at FROM sources WHERE tenant_id = ?1 AND id = ?2`, sourceID)
		if err != nil {
			return err
		}
		if err := row.Scan(&deleted); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &domain.SourceNotFoundError{Entity: "source", ID: sourceID}
			}
			return fmt.Errorf("checking source: %w", err)
		}
		if deleted.Valid {
			return &domain.SourceNotFoundError{Entity: "source", ID: sourceID}
		}

		id := ulid.Make().String()
		_, err = tx.exec(ctx, `
			INSERT INTO ingestion_jobs (id, tenant_id, source_id, status, retry_of, created_at)
			VALUES (?2, ?1, ?3, ?4, ?5, ?6)
		`, id, sourceID, string(domain.JobPending), retryOf, now())
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConflictError{SourceID: sourceID, ActiveJobID: activeJobID(ctx, tx, sourceID)}
			}
			return fmt.Errorf("inserting job: %w", err)
		}

		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// activeJobID returns the job holding the source's active slot, if any.
func activeJobID(ctx context.Context, sc *scope, sourceID string) string {
	row, err := sc.queryRow(ctx, `
		SELECT id FROM ingestion_jobs
		WHERE tenant_id = ?1 AND source_id = ?2 AND status IN ('pending', 'running')
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
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	return getJob(ctx, sc, id)
}

func getJob(ctx context.Context, sc *scope, id string) (*domain.Job, error) {
	row, err := sc.queryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE tenant_id = ?1 AND id = ?2`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}

	var (
		where = []string{"tenant_id = ?1"}
		args  []any
	)
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		where = append(where, fmt.Sprintf("source_id = ?%d", len(args)+1))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = ?%d", len(args)+1))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT %s FROM ingestion_jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?%d`,
		jobColumns, strings.Join(where, " AND "), len(args)+1)

	rows, err := sc.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job //nolint:prealloc // size unknown from query
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// StartJob moves a pending job to running.
func (s *Store) StartJob(ctx context.Context, tenant domain.TenantID, id string) (*domain.Job, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}

	var job *domain.Job
	err = s.inTx(ctx, sc, func(tx *scope) error {
		res, err := tx.exec(ctx, `
			UPDATE ingestion_jobs SET status = 'running', started_at = ?3
			WHERE tenant_id = ?1 AND id = ?2 AND status = 'pending'
		`, id, now())
		if err != nil {
			return fmt.Errorf("starting job: %w", err)
		}
		if err := affected(res); err != nil {
			current, gerr := getJob(ctx, tx, id)
			if gerr != nil {
				return gerr
			}
			return fmt.Errorf("job %s is %s: %w", id, current.Status, domain.ErrInvalidTransition)
		}
		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobStatus moves a job to a terminal state.
func (s *Store) UpdateJobStatus(ctx context.Context, tenant domain.TenantID, id string, status domain.JobStatus, errMsg string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal state", domain.ErrInvalidTransition, status)
	}

	var from []string
	for _, st := range []domain.JobStatus{domain.JobPending, domain.JobRunning} {
		if domain.CanTransition(st, status) {
			from = append(from, "'"+string(st)+"'")
		}
	}

	return s.inTx(ctx, sc, func(tx *scope) error {
		res, err := tx.exec(ctx, `
			UPDATE ingestion_jobs SET status = ?3, last_error = ?4, finished_at = ?5
			WHERE tenant_id = ?1 AND id = ?2 AND status IN (`+strings.Join(from, ", ")+`)
		`, id, string(status), errMsg, now())
		if err != nil {
			return fmt.Errorf("updating job status: %w", err)
		}
		if err := affected(res); err != nil {
			current, gerr := getJob(ctx, tx, id)
			if gerr != nil {
				return gerr
			}
			return fmt.Errorf("job %s %s -> %s: %w", id, current.Status, status, domain.ErrInvalidTransition)
		}
		return nil
	})
}

// UpdateJobProgress stores the job's counters.
func (s *Store) UpdateJobProgress(ctx context.Context, tenant domain.TenantID, id string, c domain.JobCounters) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	res, err := sc.exec(ctx, `
		UPDATE ingestion_jobs
		SET items_seen = ?3, items_processed = ?4, items_skipped = ?5, chunks_written = ?6
		WHERE tenant_id = ?1 AND id = ?2
	`, id, c.ItemsSeen, c.ItemsProcessed, c.ItemsSkipped, c.ChunksWritten)
	if err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return affected(res)
}

// RequestJobCancel flags an active job for cancellation.
func (s *Store) RequestJobCancel(ctx context.Context, tenant domain.TenantID, id string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	res, err := sc.exec(ctx, `
		UPDATE ingestion_jobs SET cancel_requested = 1
		WHERE tenant_id = ?1 AND id = ?2 AND status IN ('pending', 'running')
	`, id)
	if err != nil {
		return fmt.Errorf("requesting cancel: %w", err)
	}
	if err := affected(res); err != nil {
		job, gerr := getJob(ctx, sc, id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrInvalidTransition)
	}
	return nil
}

// IsJobCancelRequested reports the persisted cancel flag.
func (s *Store) IsJobCancelRequested(ctx context.Context, tenant domain.TenantID, id string) (bool, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return false, err
	}
	row, err := sc.queryRow(ctx, `SELECT cancel_requested FROM ingestion_jobs WHERE tenant_id = ?1 AND id = ?2`, id)
	if err != nil {
		return false, err
	}
	var flag int
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("reading cancel flag: %w", err)
	}
	return flag == 1, nil
}

// AppendJobLog adds a log line to a job.
func (s *Store) AppendJobLog(ctx context.Context, tenant domain.TenantID, e domain.JobLogEntry) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = now()
	}
	if e.Level == "" {
		e.Level = domain.LogInfo
	}
	// Selecting from ingestion_jobs keeps entries on the tenant's own jobs.
	res, err := sc.exec(ctx, `
		INSERT INTO job_log (tenant_id, job_id, level, item_key, message, created_at)
		SELECT tenant_id, id, ?3, ?4, ?5, ?6 FROM ingestion_jobs WHERE tenant_id = ?1 AND id = ?2
	`, e.JobID, string(e.Level), e.ItemKey, e.Message, e.At)
	if err != nil {
		return fmt.Errorf("appending job log: %w", err)
	}
	return affected(res)
}

// ListJobLog returns a job's log in insertion order.
func (s *Store) ListJobLog(ctx context.Context, tenant domain.TenantID, jobID string) ([]domain.JobLogEntry, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	rows, err := sc.query(ctx, `
		SELECT id, job_id, level, item_key, message, created_at
		FROM job_log WHERE tenant_id = ?1 AND job_id = ?2
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying job log: %w", err)
	}
	defer rows.Close()

	var entries []domain.JobLogEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			e     domain.JobLogEntry
			level string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &level, &e.ItemKey, &e.Message, &e.At); err != nil {
			return nil, fmt.Errorf("scanning job log: %w", err)
		}
		e.Level = domain.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job log: %w", err)
	}
	return entries, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		tenant    string
		status    string
		cancelReq int
		started   sql.NullTime
		finished  sql.NullTime
	)
	if err := row.Scan(&job.ID, &tenant, &job.SourceID, &status, &job.RetryOf,
		&job.Counters.ItemsSeen, &job.Counters.ItemsProcessed, &job.Counters.ItemsSkipped,
		&job.Counters.ChunksWritten, &job.LastError, &cancelReq, &job.CreatedAt, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	job.TenantID = domain.TenantID(tenant)
	job.Status = domain.JobStatus(status)
	job.CancelRequested = cancelReq == 1
	job.StartedAt = nullTime(started)
	job.FinishedAt = nullTime(finished)
	return &job, nil
}

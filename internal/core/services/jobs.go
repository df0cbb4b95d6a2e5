package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors/chunker"
)

// Ensure JobTracker implements the interface.
var _ driving.JobService = (*JobTracker)(nil)

// Job tracker defaults.
const (
	DefaultWorkers         = 4
	DefaultItemConcurrency = 4
	DefaultPollInterval    = 250 * time.Millisecond
)

// recoverBatch bounds one ListJobs page during Recover.
const recoverBatch = 500

// JobTrackerConfig tunes job execution.
type JobTrackerConfig struct {
	// Workers is the number of jobs run at once by this process.
	Workers int
	// ItemConcurrency bounds items processed at once within one job.
	ItemConcurrency int
	// PollInterval is how often Wait re-reads a job it does not run.
	PollInterval time.Duration
	// QueueOnly leaves submitted and retried jobs pending for a
	// dispatcher in another process.
	QueueOnly bool
}

// activeJob is the in-process handle of a running job.
type activeJob struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (a *activeJob) requestStop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// JobTracker runs ingestion jobs on a worker pool and records their
// state in the store.
type JobTracker struct {
	store      driven.Store
	connectors driven.ConnectorFactory
	processors driven.ProcessorRegistry
	chunker    *chunker.Chunker
	embedder   *Embedder
	metrics    driven.Metrics
	cfg        JobTrackerConfig

	pool *ants.Pool
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	active map[string]*activeJob
	closed bool
	wg     sync.WaitGroup
}

// NewJobTracker creates a tracker and its worker pool. Call Close to
// stop it.
func NewJobTracker(
	store driven.Store,
	connectors driven.ConnectorFactory,
	processors driven.ProcessorRegistry,
	chunk *chunker.Chunker,
	embedder *Embedder,
	metrics driven.Metrics,
	cfg JobTrackerConfig,
) (*JobTracker, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = DefaultItemConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if metrics == nil {
		metrics = driven.NopMetrics{}
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true), ants.WithPanicHandler(func(p any) {
		logger.Error("job worker panic: %v", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	base, stop := context.WithCancel(context.Background())
	return &JobTracker{
		store:      store,
		connectors: connectors,
		processors: processors,
		chunker:    chunk,
		embedder:   embedder,
		metrics:    metrics,
		cfg:        cfg,
		pool:       pool,
		base:       base,
		stop:       stop,
		active:     make(map[string]*activeJob),
	}, nil
}

// Submit commits the source and a pending job, then hands the job to the
// pool. When the pool is full the job stays pending for a dispatcher.
func (t *JobTracker) Submit(ctx context.Context, tenant domain.TenantID, req driving.SubmitRequest) (*domain.Job, error) {
	if err := domain.RequireTenant(tenant); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Location) == "" {
		return nil, fmt.Errorf("%w: location required", domain.ErrInvalidInput)
	}
	if err := t.checkKind(req); err != nil {
		return nil, err
	}

	src, err := t.store.GetOrCreateSource(ctx, tenant, domain.SourceSpec{
		Kind:         req.Kind,
		Location:     req.Location,
		DefinitionID: req.DefinitionID,
		Params:       req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create source: %w", err)
	}

	job, err := t.store.CreateJob(ctx, tenant, src.ID, "")
	if err != nil {
		return nil, err
	}
	t.dispatchOrLeave(tenant, job)
	return job, nil
}

// paramValidator is implemented by factories that know each kind's
// required params.
type paramValidator interface {
	ValidateParams(kind domain.ConnectorKind, params map[string]string) error
}

func (t *JobTracker) checkKind(req driving.SubmitRequest) error {
	// Required params may come from the definition, which is merged later.
	if v, ok := t.connectors.(paramValidator); ok && req.DefinitionID == "" {
		return v.ValidateParams(req.Kind, req.Params)
	}
	for _, k := range t.connectors.SupportedKinds() {
		if k == req.Kind {
			return nil
		}
	}
	return fmt.Errorf("%w: connector kind %q", domain.ErrUnsupportedType, req.Kind)
}

func (t *JobTracker) dispatchOrLeave(tenant domain.TenantID, job *domain.Job) {
	if t.cfg.QueueOnly {
		return
	}
	if err := t.Dispatch(tenant, job.ID); err != nil {
		logger.Warn("job %s left pending: %v", job.ID, err)
	}
}

// Dispatch runs a pending job on the pool. It is a no-op when this
// process already runs the job. ants.ErrPoolOverload means every worker
// is busy and the job stays pending.
func (t *JobTracker) Dispatch(tenant domain.TenantID, jobID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ants.ErrPoolClosed
	}
	if _, ok := t.active[jobID]; ok {
		t.mu.Unlock()
		return nil
	}
	aj := &activeJob{stop: make(chan struct{}), done: make(chan struct{})}
	t.active[jobID] = aj
	t.wg.Add(1)
	t.mu.Unlock()

	err := t.pool.Submit(func() {
		defer t.finish(jobID, aj)
		t.run(t.base, tenant, jobID, aj)
	})
	if err != nil {
		t.finish(jobID, aj)
		return err
	}
	return nil
}

func (t *JobTracker) finish(jobID string, aj *activeJob) {
	t.mu.Lock()
	delete(t.active, jobID)
	t.mu.Unlock()
	close(aj.done)
	t.wg.Done()
}

// lookup returns the in-process handle of a job, or nil.
func (t *JobTracker) lookup(jobID string) *activeJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[jobID]
}

// Running returns the number of jobs this process is executing.
func (t *JobTracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Status returns the current job row.
func (t *JobTracker) Status(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	return t.store.GetJob(ctx, tenant, jobID)
}

// Logs returns the job's log in insertion order.
func (t *JobTracker) Logs(ctx context.Context, tenant domain.TenantID, jobID string) ([]domain.JobLogEntry, error) {
	if _, err := t.store.GetJob(ctx, tenant, jobID); err != nil {
		return nil, err
	}
	return t.store.ListJobLog(ctx, tenant, jobID)
}

// List returns jobs newest first.
func (t *JobTracker) List(ctx context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error) {
	return t.store.ListJobs(ctx, tenant, filter)
}

// Cancel flags the job for cancellation. A pending job is cancelled at
// once; a running job stops at its next item boundary.
func (t *JobTracker) Cancel(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	if err := t.store.RequestJobCancel(ctx, tenant, jobID); err != nil {
		return nil, err
	}
	if aj := t.lookup(jobID); aj != nil {
		aj.requestStop()
	}

	job, err := t.store.GetJob(ctx, tenant, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobPending {
		err := t.store.UpdateJobStatus(ctx, tenant, jobID, domain.JobCancelled, "cancelled before start")
		// A worker may have started it in the meantime; it will observe
		// the flag instead.
		if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		if err == nil {
			t.metrics.JobFinished(domain.JobCancelled)
			t.appendLog(ctx, tenant, jobID, domain.LogInfo, "", "cancelled before start")
		}
		return t.store.GetJob(ctx, tenant, jobID)
	}
	return job, nil
}

// Retry creates a new job for the source of a failed or cancelled job.
func (t *JobTracker) Retry(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	prev, err := t.store.GetJob(ctx, tenant, jobID)
	if err != nil {
		return nil, err
	}
	if prev.Status != domain.JobFailed && prev.Status != domain.JobCancelled {
		return nil, fmt.Errorf("job %s is %s, only failed or cancelled jobs can be retried: %w",
			jobID, prev.Status, domain.ErrInvalidTransition)
	}

	job, err := t.store.CreateJob(ctx, tenant, prev.SourceID, prev.ID)
	if err != nil {
		return nil, err
	}
	t.appendLog(ctx, tenant, job.ID, domain.LogInfo, "", "retry of "+prev.ID)
	t.dispatchOrLeave(tenant, job)
	return job, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (t *JobTracker) Wait(ctx context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := t.store.GetJob(ctx, tenant, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		var done <-chan struct{}
		if aj := t.lookup(jobID); aj != nil {
			done = aj.done
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		case <-ticker.C:
		}
	}
}

// Recover fails the tenant's running jobs that this process does not
// own and discards their staged versions.
func (t *JobTracker) Recover(ctx context.Context, tenant domain.TenantID) ([]string, error) {
	jobs, err := t.store.ListJobs(ctx, tenant, domain.JobFilter{Status: domain.JobRunning, Limit: recoverBatch})
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}

	var recovered []string
	for _, job := range jobs {
		if t.lookup(job.ID) != nil {
			continue
		}
		n, err := t.store.DiscardStagedVersions(ctx, tenant, job.ID)
		if err != nil {
			return recovered, fmt.Errorf("discard staged versions of %s: %w", job.ID, err)
		}
		err = t.store.UpdateJobStatus(ctx, tenant, job.ID, domain.JobFailed, "interrupted: worker exited while running")
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		t.metrics.JobFinished(domain.JobFailed)
		t.appendLog(ctx, tenant, job.ID, domain.LogError, "",
			fmt.Sprintf("recovered after interruption, %d staged version(s) discarded", n))
		recovered = append(recovered, job.ID)
	}
	return recovered, nil
}

// DispatchPending hands the tenant's pending jobs to the pool, oldest
// first. It stops at the first pool overload and returns how many were
// dispatched.
func (t *JobTracker) DispatchPending(ctx context.Context, tenant domain.TenantID) (int, error) {
	jobs, err := t.store.ListJobs(ctx, tenant, domain.JobFilter{Status: domain.JobPending, Limit: recoverBatch})
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	n := 0
	for i := len(jobs) - 1; i >= 0; i-- {
		if t.lookup(jobs[i].ID) != nil {
			continue
		}
		if err := t.Dispatch(tenant, jobs[i].ID); err != nil {
			if errors.Is(err, ants.ErrPoolOverload) {
				break
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Close stops accepting work, interrupts running jobs and waits for them.
// Interrupted jobs end cancelled.
func (t *JobTracker) Close() error {
	t.mu.Lock()
	t.closed = true
	for _, aj := range t.active {
		aj.requestStop()
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.stop()
	t.pool.Release()
	return nil
}

// appendLog writes a job log line, logging store failures.
func (t *JobTracker) appendLog(ctx context.Context, tenant domain.TenantID, jobID string,
	level domain.LogLevel, itemKey, msg string) {
	entry := domain.JobLogEntry{JobID: jobID, Level: level, ItemKey: itemKey, Message: msg}
	if err := t.store.AppendJobLog(ctx, tenant, entry); err != nil {
		logger.Warn("job %s: append log: %v", jobID, err)
	}
}

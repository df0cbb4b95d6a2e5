package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
	"github.com/custodia-labs/sercha-ingest/internal/processors"
)

// errStopped ends the fetch loop when a cancel is observed.
var errStopped = errors.New("job cancelled")

// jobRun is the state of one job execution.
type jobRun struct {
	t      *JobTracker
	tenant domain.TenantID
	job    *domain.Job
	source *domain.Source
	aj     *activeJob
	log    *zap.SugaredLogger

	mu       sync.Mutex
	counters domain.JobCounters

	// unreachable counts skips caused by the origin being unreachable.
	unreachable     int
	lastUnreachable error
}

// run executes one job from pickup to its terminal state.
func (t *JobTracker) run(ctx context.Context, tenant domain.TenantID, jobID string, aj *activeJob) {
	job, err := t.store.StartJob(ctx, tenant, jobID)
	if err != nil {
		// Cancelled before pickup or started elsewhere.
		logger.Debug("job %s not started: %v", jobID, err)
		return
	}

	r := &jobRun{
		t:      t,
		tenant: tenant,
		job:    job,
		aj:     aj,
		log:    logger.With("tenant", string(tenant), "job_id", job.ID, "source_id", job.SourceID),
	}
	r.log.Infof("job started")
	r.appendLog(ctx, domain.LogInfo, "", "job started")

	err = r.execute(ctx)
	r.finalise(context.WithoutCancel(ctx), err)
}

// execute builds the connector and streams its items through the item
// pipeline. It returns errStopped on cancellation and a fatal error when
// the job must fail.
func (r *jobRun) execute(ctx context.Context) error {
	t := r.t
	src, err := t.store.GetSource(ctx, r.tenant, r.job.SourceID)
	if err != nil {
		return &domain.FatalJobError{Reason: "load source", Err: err}
	}
	if src.IsDeleted() {
		return &domain.FatalJobError{Reason: "load source", Err: &domain.SourceNotFoundError{Entity: "source", ID: src.ID}}
	}
	r.source = src

	conn, err := t.connectors.Create(ctx, *src)
	if err != nil {
		return &domain.FatalJobError{Reason: "create connector", Err: err}
	}
	defer func() {
		if err := conn.Close(); err != nil {
			r.log.Warnf("close connector: %v", err)
		}
	}()

	if err := conn.Validate(ctx); err != nil {
		return &domain.FatalJobError{Reason: "validate connector", Err: err}
	}
	if err := t.embedder.Init(ctx); err != nil {
		return &domain.FatalJobError{Reason: "initialise embedder", Err: err}
	}

	fetchCtx, stopFetch := context.WithCancel(ctx)
	defer stopFetch()
	items, errs := conn.Fetch(fetchCtx)

	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(t.cfg.ItemConcurrency)

	stopped := false
	for item := range items {
		if gctx.Err() != nil {
			break
		}
		if r.stopRequested(gctx) {
			stopped = true
			break
		}
		r.count(func(c *domain.JobCounters) { c.ItemsSeen++ })
		g.Go(func() error {
			return r.processItem(gctx, item)
		})
	}
	if stopped || gctx.Err() != nil {
		stopFetch()
		for range items {
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if stopped || r.stopSignalled() {
		return errStopped
	}
	if err := ctx.Err(); err != nil {
		return errStopped
	}
	if err := <-errs; err != nil {
		return &domain.FatalJobError{Reason: "fetch", Err: err}
	}
	return r.checkReachable()
}

// checkReachable fails a job whose every item was skipped because the
// origin could not be reached.
func (r *jobRun) checkReachable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters
	if c.ItemsSeen == 0 || c.ItemsProcessed > 0 || r.unreachable < c.ItemsSeen {
		return nil
	}
	return &domain.FatalJobError{Reason: "connector unreachable", Err: r.lastUnreachable}
}

// stopSignalled reports whether a stop was observed, without a store read.
func (r *jobRun) stopSignalled() bool {
	select {
	case <-r.aj.stop:
		return true
	default:
		return false
	}
}

// stopRequested checks the in-process signal and then the persisted flag.
func (r *jobRun) stopRequested(ctx context.Context) bool {
	if r.stopSignalled() {
		return true
	}
	flag, err := r.t.store.IsJobCancelRequested(ctx, r.tenant, r.job.ID)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warnf("read cancel flag: %v", err)
		}
		return false
	}
	if flag {
		r.aj.requestStop()
	}
	return flag
}

// processItem runs one raw item through process, chunk, embed, stage and
// promote. Item-scoped failures are logged and counted as skipped; only
// fatal errors are returned.
func (r *jobRun) processItem(ctx context.Context, item domain.RawItem) error {
	t := r.t
	if item.Err != nil {
		r.skip(ctx, item.NaturalKey, item.Err)
		return nil
	}

	proc, err := t.processors.Get(item.ContentType)
	if err != nil {
		r.skip(ctx, item.NaturalKey, err)
		return nil
	}
	ext, err := proc.Extract(ctx, &item)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.IsItemScoped(err) {
			err = &domain.ExtractionError{Processor: proc.Name(), Err: err}
		}
		r.skip(ctx, item.NaturalKey, err)
		return nil
	}

	segments := t.chunker.Split(ext.Text)
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	vectors, err := t.embedder.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.FatalJobError{Reason: "embed " + item.NaturalKey, Err: err}
	}

	_, version, err := t.store.UpsertDocumentVersion(ctx, r.tenant, r.job.SourceID, item.NaturalKey, r.snapshot(&item, ext))
	if err != nil {
		return &domain.FatalJobError{Reason: "stage version of " + item.NaturalKey, Err: err}
	}

	chunks := make([]domain.Chunk, len(segments))
	for i, s := range segments {
		chunks[i] = domain.Chunk{
			Ordinal:     s.Ordinal,
			Content:     s.Text,
			StartOffset: s.Start,
			EndOffset:   s.End,
			Embedding:   vectors[i],
		}
	}
	if err := t.store.InsertChunks(ctx, r.tenant, version.ID, chunks); err != nil {
		return &domain.FatalJobError{Reason: "insert chunks of " + item.NaturalKey, Err: err}
	}

	if r.stopRequested(ctx) {
		if err := t.store.DiscardVersion(context.WithoutCancel(ctx), r.tenant, version.ID); err != nil {
			r.log.Warnf("discard staged version %s: %v", version.ID, err)
		}
		return nil
	}
	if err := t.store.PromoteVersion(ctx, r.tenant, version.ID); err != nil {
		return &domain.FatalJobError{Reason: "promote version of " + item.NaturalKey, Err: err}
	}

	r.count(func(c *domain.JobCounters) {
		c.ItemsProcessed++
		c.ChunksWritten += len(chunks)
	})
	t.metrics.ItemFinished(driven.ItemProcessed)
	t.metrics.ChunksWritten(len(chunks))
	r.log.Debugf("ingested %s: version %d, %d chunks", item.NaturalKey, version.Version, len(chunks))
	return nil
}

// snapshot describes the version being staged for item.
func (r *jobRun) snapshot(item *domain.RawItem, ext *domain.Extraction) domain.VersionSnapshot {
	sum := sha256.Sum256(item.Content)
	meta := processors.CopyMetadata(item.Metadata)
	maps.Copy(meta, ext.Metadata)

	title := ext.Title
	if title == "" {
		title = processors.MetadataTitle(item.Metadata)
	}
	if title == "" {
		title = processors.TitleFromKey(item.NaturalKey)
	}

	return domain.VersionSnapshot{
		Title:       title,
		ContentType: item.ContentType,
		ByteSize:    int64(len(item.Content)),
		PageCount:   ext.PageCount,
		RecordCount: ext.RecordCount,
		ContentHash: hex.EncodeToString(sum[:]),
		JobID:       r.job.ID,
		Metadata:    meta,
	}
}

// skip records an item-scoped failure.
func (r *jobRun) skip(ctx context.Context, key string, err error) {
	unreachable := domain.IsUnreachable(err)
	r.count(func(c *domain.JobCounters) {
		c.ItemsSkipped++
		if unreachable {
			r.unreachable++
			r.lastUnreachable = err
		}
	})
	r.t.metrics.ItemFinished(driven.ItemSkipped)
	r.log.Warnf("skipped %s: %v", key, err)
	r.appendLog(ctx, domain.LogWarn, key, "skipped: "+err.Error())
}

// count applies fn to the counters and persists them.
func (r *jobRun) count(fn func(*domain.JobCounters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.counters)
	if err := r.t.store.UpdateJobProgress(r.t.base, r.tenant, r.job.ID, r.counters); err != nil {
		r.log.Warnf("update progress: %v", err)
	}
}

// finalise discards in-flight staged versions on failure or cancel and
// moves the job to its terminal state.
func (r *jobRun) finalise(ctx context.Context, runErr error) {
	status := domain.JobSucceeded
	msg := ""
	switch {
	case errors.Is(runErr, errStopped) || errors.Is(runErr, context.Canceled):
		status = domain.JobCancelled
	case runErr != nil:
		status = domain.JobFailed
		msg = runErr.Error()
	}

	if status != domain.JobSucceeded {
		n, err := r.t.store.DiscardStagedVersions(ctx, r.tenant, r.job.ID)
		if err != nil {
			r.log.Errorf("discard staged versions: %v", err)
		} else if n > 0 {
			r.log.Infof("discarded %d staged version(s)", n)
		}
	}

	r.mu.Lock()
	counters := r.counters
	r.mu.Unlock()
	if err := r.t.store.UpdateJobProgress(ctx, r.tenant, r.job.ID, counters); err != nil {
		r.log.Warnf("update progress: %v", err)
	}

	if err := r.t.store.UpdateJobStatus(ctx, r.tenant, r.job.ID, status, msg); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Cancelled while being picked up.
			r.log.Warnf("set status %s: %v", status, err)
			return
		}
		r.log.Errorf("set status %s: %v", status, err)
		return
	}
	r.t.metrics.JobFinished(status)

	summary := fmt.Sprintf("job %s: %d seen, %d processed, %d skipped, %d chunks in %s",
		status, counters.ItemsSeen, counters.ItemsProcessed, counters.ItemsSkipped, counters.ChunksWritten,
		time.Since(r.startedAt()).Round(time.Millisecond))
	level := domain.LogInfo
	if status == domain.JobFailed {
		level = domain.LogError
		summary += ": " + msg
		r.log.Errorf("%s", summary)
	} else {
		r.log.Infof("%s", summary)
	}
	r.appendLog(ctx, level, "", summary)
}

func (r *jobRun) startedAt() time.Time {
	if r.job.StartedAt != nil {
		return *r.job.StartedAt
	}
	return r.job.CreatedAt
}

func (r *jobRun) appendLog(ctx context.Context, level domain.LogLevel, key, msg string) {
	r.t.appendLog(context.WithoutCancel(ctx), r.tenant, r.job.ID, level, key, msg)
}

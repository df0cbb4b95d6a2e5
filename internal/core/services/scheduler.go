package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// DefaultDispatchInterval is how often pending jobs are picked up.
const DefaultDispatchInterval = 2 * time.Second

// pendingDispatcher is the part of JobTracker the Dispatcher drives.
type pendingDispatcher interface {
	Recover(ctx context.Context, tenant domain.TenantID) ([]string, error)
	DispatchPending(ctx context.Context, tenant domain.TenantID) (int, error)
}

// DispatcherConfig configures the Dispatcher.
type DispatcherConfig struct {
	// Tenants served by this process.
	Tenants []domain.TenantID
	// Interval between polls for pending jobs.
	Interval time.Duration
	// RecoverOnStart fails jobs left running by a previous process.
	RecoverOnStart bool
}

// Dispatcher polls the store for pending jobs and hands them to the
// tracker's worker pool. Jobs submitted by other processes, and jobs
// left pending when the pool was full, are started this way.
type Dispatcher struct {
	config DispatcherConfig
	jobs   pendingDispatcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config DispatcherConfig, jobs pendingDispatcher) *Dispatcher {
	if config.Interval <= 0 {
		config.Interval = DefaultDispatchInterval
	}
	return &Dispatcher{config: config, jobs: jobs}
}

// Start runs the dispatch loop. It blocks until Stop is called or ctx
// is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	d.mu.Unlock()

	if d.config.RecoverOnStart {
		d.recover(ctx)
	}
	d.dispatch(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.markStopped()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

// Stop ends the dispatch loop. Running jobs are not affected.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	close(d.stopCh)
	return nil
}

func (d *Dispatcher) markStopped() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
}

func (d *Dispatcher) recover(ctx context.Context) {
	for _, tenant := range d.config.Tenants {
		ids, err := d.jobs.Recover(ctx, tenant)
		if err != nil {
			logger.Error("dispatcher: recover tenant %s: %v", tenant, err)
		}
		if len(ids) > 0 {
			logger.Info("dispatcher: tenant %s: failed %d interrupted job(s)", tenant, len(ids))
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	for _, tenant := range d.config.Tenants {
		if ctx.Err() != nil {
			return
		}
		n, err := d.jobs.DispatchPending(ctx, tenant)
		if err != nil {
			logger.Error("dispatcher: tenant %s: %v", tenant, err)
			continue
		}
		if n > 0 {
			logger.Debug("dispatcher: tenant %s: started %d pending job(s)", tenant, n)
		}
	}
}

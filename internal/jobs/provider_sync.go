// Package jobs contains background jobs that run for the lifetime of
// the server process.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
)

// Syncer runs a bulk provider sync. A nil profit margin means the
// configured default.
type Syncer interface {
	SyncAll(ctx context.Context, profitMargin *float64) (*models.SyncSummary, error)
}

// ProviderSyncJob periodically synchronizes every active provider's
// imported services with its upstream catalog. A manually triggered
// bulk sync and a scheduled one contend on the orchestrator's busy
// flag; the scheduled run simply skips its slot when one is already
// running.
type ProviderSyncJob struct {
	syncer   Syncer
	interval time.Duration

	stopCh    chan struct{}
	startedCh chan struct{}
	wg        sync.WaitGroup
}

// NewProviderSyncJob creates the job. It does nothing until Start is
// called.
func NewProviderSyncJob(syncer Syncer, interval time.Duration) *ProviderSyncJob {
	return &ProviderSyncJob{
		syncer:    syncer,
		interval:  interval,
		stopCh:    make(chan struct{}),
		startedCh: make(chan struct{}),
	}
}

// Start launches the periodic sync loop. An interval of zero or less
// disables the job.
func (j *ProviderSyncJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		slog.Info("scheduled provider sync disabled")
		close(j.startedCh)
		return
	}

	slog.Info("starting scheduled provider sync", "interval", j.interval)

	j.wg.Add(1)
	go func() {
		close(j.startedCh)
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.runOnce(ctx)
			case <-j.stopCh:
				slog.Info("scheduled provider sync stopped")
				return
			case <-ctx.Done():
				slog.Info("scheduled provider sync context cancelled")
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (j *ProviderSyncJob) Stop() {
	<-j.startedCh
	close(j.stopCh)
	j.wg.Wait()
}

func (j *ProviderSyncJob) runOnce(ctx context.Context) {
	summary, err := j.syncer.SyncAll(ctx, nil)
	if err != nil {
		// ErrSyncInProgress lands here too: a manual bulk sync owns this
		// slot and the next tick will try again.
		slog.Warn("scheduled provider sync skipped", "error", err)
		return
	}

	slog.Info("scheduled provider sync completed",
		"providers", summary.ProvidersProcessed,
		"updated", summary.Totals.Updated,
		"failed", summary.Totals.Failed)
}

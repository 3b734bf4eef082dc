package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
	"github.com/suitableit/smm-panel-backend/internal/db/repositories"
	"github.com/suitableit/smm-panel-backend/internal/events"
	"github.com/suitableit/smm-panel-backend/internal/telemetry"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// ErrSyncInProgress is returned when a bulk sync is requested while
// another one is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ProviderStore is the provider persistence surface the orchestrator
// needs.
type ProviderStore interface {
	GetByID(ctx context.Context, id int64) (*models.Provider, error)
	ListActive(ctx context.Context) ([]models.Provider, error)
	TouchLastSync(ctx context.Context, id int64, at time.Time) error
}

// ServiceStore applies upstream catalog values to imported services.
type ServiceStore interface {
	ListByProvider(ctx context.Context, providerID int64) ([]models.ProviderService, error)
	UpdateFromUpstream(ctx context.Context, providerID int64, u repositories.UpstreamUpdate) (priceChanged, statusChanged bool, err error)
}

// RunStore records sync run history.
type RunStore interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Complete(ctx context.Context, id uuid.UUID, status models.SyncRunStatus, updated, priceChanges, statusChanges int, errMsg *string) error
}

// Orchestrator coordinates catalog synchronization. It updates only
// services that were previously imported; the upstream catalog is never
// allowed to create rows through a sync.
type Orchestrator struct {
	providers ProviderStore
	services  ServiceStore
	runs      RunStore
	client    Catalog
	prober    *Prober
	queue     *events.Queue

	providerTimeout time.Duration
	bulkTimeout     time.Duration
	defaultMargin   float64

	mu          gosync.Mutex
	activeSyncs map[int64]bool
	bulkRunning bool
}

// NewOrchestrator wires the sync orchestrator. providerTimeout caps the
// upstream catalog fetch for one provider even when the provider row
// configures a longer timeout; defaultMargin is the profit margin
// (percent) applied to upstream rates when a sync request does not
// carry one.
func NewOrchestrator(providers ProviderStore, services ServiceStore, runs RunStore, client Catalog, prober *Prober, queue *events.Queue, providerTimeout, bulkTimeout time.Duration, defaultMargin float64) *Orchestrator {
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	if bulkTimeout <= 0 {
		bulkTimeout = 120 * time.Second
	}
	return &Orchestrator{
		providers:       providers,
		services:        services,
		runs:            runs,
		client:          client,
		prober:          prober,
		queue:           queue,
		providerTimeout: providerTimeout,
		bulkTimeout:     bulkTimeout,
		defaultMargin:   defaultMargin,
		activeSyncs:     make(map[int64]bool),
	}
}

// marginMultiplier resolves the requested profit margin (nil means the
// configured default) into the factor applied to every upstream rate.
func (o *Orchestrator) marginMultiplier(profitMargin *float64) decimal.Decimal {
	margin := o.defaultMargin
	if profitMargin != nil {
		margin = *profitMargin
	}
	if margin < 0 {
		margin = 0
	}
	return decimal.NewFromFloat(1 + margin/100)
}

// SyncProvider synchronizes one provider's imported services with its
// upstream catalog. Rates are marked up by profitMargin percent, or the
// configured default when nil.
func (o *Orchestrator) SyncProvider(ctx context.Context, id int64, profitMargin *float64) (*models.SyncResult, error) {
	p, err := o.providers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, upstream.NewError(upstream.KindValidation, "Provider not found", nil)
	}
	if p.Status == models.ProviderStatusTrash {
		return nil, upstream.NewError(upstream.KindValidation, "Provider is in trash", nil)
	}
	if p.Status != models.ProviderStatusActive {
		return nil, upstream.NewError(upstream.KindValidation, "Provider is not active", nil)
	}
	if !p.Configured() {
		return nil, upstream.NewError(upstream.KindValidation, "Provider is not configured", nil)
	}

	o.mu.Lock()
	if o.activeSyncs[id] {
		o.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	o.activeSyncs[id] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.activeSyncs, id)
		o.mu.Unlock()
	}()

	if err := o.prober.EnsureConnected(ctx, p); err != nil {
		return nil, err
	}

	result, syncErr := o.syncOne(ctx, p, o.marginMultiplier(profitMargin))
	return result, syncErr
}

// SyncAll synchronizes every active provider sequentially. Only one
// bulk sync runs at a time; a second request is rejected rather than
// queued.
func (o *Orchestrator) SyncAll(ctx context.Context, profitMargin *float64) (*models.SyncSummary, error) {
	o.mu.Lock()
	if o.bulkRunning {
		o.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	o.bulkRunning = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.bulkRunning = false
		o.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, o.bulkTimeout)
	defer cancel()

	providers, err := o.providers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	summary := &models.SyncSummary{
		Results:            make([]models.SyncResult, 0, len(providers)),
		ProvidersProcessed: len(providers),
	}
	multiplier := o.marginMultiplier(profitMargin)

	for i := range providers {
		p := &providers[i]

		// A provider known to be unreachable fails fast; its failure is
		// part of the report, not a reason to stop the bulk run.
		if err := o.prober.EnsureConnected(ctx, p); err != nil {
			summary.Results = append(summary.Results, models.SyncResult{
				ProviderID:   p.ID,
				ProviderName: p.Name,
				Success:      false,
				Error:        upstreamMessage(err),
			})
			summary.Totals.Failed++
			continue
		}

		result, _ := o.syncOne(ctx, p, multiplier)
		summary.Results = append(summary.Results, *result)

		if result.Success {
			summary.Totals.Updated += result.Updated
			summary.Totals.PriceChanges += result.PriceChanges
			summary.Totals.StatusChange += result.StatusChange
		} else {
			summary.Totals.Failed++
		}
	}

	return summary, nil
}

// syncOne runs the catalog sync for a single provider, recording a sync
// run row either way. A failed sync never updates the provider's last
// sync time.
func (o *Orchestrator) syncOne(ctx context.Context, p *models.Provider, multiplier decimal.Decimal) (*models.SyncResult, error) {
	result := &models.SyncResult{ProviderID: p.ID, ProviderName: p.Name}
	started := time.Now()

	run := &models.SyncRun{ProviderID: &p.ID}
	if err := o.runs.Create(ctx, run); err != nil {
		slog.Error("failed to record sync run", "provider_id", p.ID, "error", err)
	}

	updated, priceChanges, statusChanges, err := o.applyCatalog(ctx, p, multiplier)

	telemetry.ProviderSyncDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		msg := upstreamMessage(err)
		result.Error = msg

		telemetry.ProviderSyncErrorsTotal.WithLabelValues(
			fmt.Sprintf("%d", p.ID), string(upstream.KindOf(err))).Inc()
		o.completeRun(run.ID, models.SyncRunFailed, updated, priceChanges, statusChanges, &msg)

		o.queue.Publish(events.Notification{
			Kind:       events.KindSyncFailed,
			ProviderID: p.ID,
			Message:    fmt.Sprintf("Sync failed for %s: %s", p.Name, msg),
		})

		slog.Error("provider sync failed",
			"provider_id", p.ID,
			"provider", p.Name,
			"kind", string(upstream.KindOf(err)),
			"error", err)
		return result, err
	}

	result.Success = true
	result.Updated = updated
	result.PriceChanges = priceChanges
	result.StatusChange = statusChanges

	telemetry.ProviderSyncServicesUpdated.Add(float64(updated))
	o.completeRun(run.ID, models.SyncRunSuccess, updated, priceChanges, statusChanges, nil)

	if err := o.providers.TouchLastSync(ctx, p.ID, time.Now()); err != nil {
		slog.Error("failed to update last sync time", "provider_id", p.ID, "error", err)
	}

	o.queue.Publish(events.Notification{
		Kind:       events.KindSyncCompleted,
		ProviderID: p.ID,
		Message:    fmt.Sprintf("Sync completed for %s", p.Name),
		Data: map[string]interface{}{
			"updated":       updated,
			"priceChanges":  priceChanges,
			"statusChanges": statusChanges,
		},
	})
	if priceChanges > 0 {
		o.queue.Publish(events.Notification{
			Kind:       events.KindPriceChange,
			ProviderID: p.ID,
			Message:    fmt.Sprintf("%d price changes from %s", priceChanges, p.Name),
		})
	}

	slog.Info("provider sync completed",
		"provider_id", p.ID,
		"provider", p.Name,
		"updated", updated,
		"price_changes", priceChanges,
		"status_changes", statusChanges,
		"duration", time.Since(started))

	return result, nil
}

// applyCatalog fetches the upstream catalog and applies it to the
// provider's imported services.
func (o *Orchestrator) applyCatalog(ctx context.Context, p *models.Provider, multiplier decimal.Decimal) (updated, priceChanges, statusChanges int, err error) {
	timeout := p.Timeout()
	if timeout > o.providerTimeout {
		timeout = o.providerTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	catalog, err := o.client.FetchServices(callCtx, p)
	if err != nil {
		return 0, 0, 0, err
	}

	imported, err := o.services.ListByProvider(ctx, p.ID)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(imported) == 0 {
		return 0, 0, 0, nil
	}

	importedIDs := make(map[string]bool, len(imported))
	for _, s := range imported {
		importedIDs[s.UpstreamServiceID] = true
	}

	for _, svc := range catalog {
		upstreamID := string(svc.ID)
		if !importedIDs[upstreamID] {
			continue
		}

		u, convErr := toUpstreamUpdate(svc, multiplier)
		if convErr != nil {
			slog.Warn("skipping malformed catalog entry",
				"provider_id", p.ID,
				"service", upstreamID,
				"error", convErr)
			continue
		}

		priceChanged, statusChanged, updErr := o.services.UpdateFromUpstream(ctx, p.ID, u)
		if updErr != nil {
			if errors.Is(updErr, repositories.ErrServiceNotImported) {
				continue
			}
			return updated, priceChanges, statusChanges, updErr
		}

		updated++
		if priceChanged {
			priceChanges++
		}
		if statusChanged {
			statusChanges++
		}
	}

	return updated, priceChanges, statusChanges, nil
}

func (o *Orchestrator) completeRun(id uuid.UUID, status models.SyncRunStatus, updated, priceChanges, statusChanges int, errMsg *string) {
	// Run bookkeeping must survive a cancelled request context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.runs.Complete(ctx, id, status, updated, priceChanges, statusChanges, errMsg); err != nil {
		slog.Error("failed to complete sync run", "run_id", id, "error", err)
	}
}

// upstreamMessage extracts the client-safe message from a classified
// error, falling back to a generic one for unclassified failures.
func upstreamMessage(err error) string {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Message
	}
	return "Sync failed"
}

package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
	"github.com/suitableit/smm-panel-backend/internal/events"
	"github.com/suitableit/smm-panel-backend/internal/telemetry"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// BalanceStore is the provider persistence surface the refresher needs.
type BalanceStore interface {
	GetByID(ctx context.Context, id int64) (*models.Provider, error)
	ListActive(ctx context.Context) ([]models.Provider, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
}

// BalanceRefresher fetches upstream account balances and patches them
// onto provider records. The balance write is targeted so it cannot
// clobber concurrent edits to other provider fields.
type BalanceRefresher struct {
	providers BalanceStore
	client    Catalog
	queue     *events.Queue
}

// NewBalanceRefresher wires a balance refresher.
func NewBalanceRefresher(providers BalanceStore, client Catalog, queue *events.Queue) *BalanceRefresher {
	return &BalanceRefresher{providers: providers, client: client, queue: queue}
}

// Refresh fetches and persists the balance of one provider. Balances
// are only meaningful for active providers; inactive and trashed ones
// are rejected before any upstream call.
func (b *BalanceRefresher) Refresh(ctx context.Context, id int64) (decimal.Decimal, error) {
	p, err := b.providers.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if p == nil {
		return decimal.Zero, upstream.NewError(upstream.KindValidation, "Provider not found", nil)
	}
	if p.Status == models.ProviderStatusTrash {
		return decimal.Zero, upstream.NewError(upstream.KindValidation, "Provider is in trash", nil)
	}
	if p.Status != models.ProviderStatusActive {
		return decimal.Zero, upstream.NewError(upstream.KindValidation, "Provider is not active", nil)
	}

	return b.refreshOne(ctx, p)
}

// RefreshAll refreshes every active provider sequentially. Individual
// failures are logged and skipped so one dead upstream cannot starve
// the rest.
func (b *BalanceRefresher) RefreshAll(ctx context.Context) {
	providers, err := b.providers.ListActive(ctx)
	if err != nil {
		slog.Error("failed to list providers for balance refresh", "error", err)
		return
	}

	for i := range providers {
		p := &providers[i]
		if _, err := b.refreshOne(ctx, p); err != nil {
			slog.Warn("balance refresh failed",
				"provider_id", p.ID,
				"provider", p.Name,
				"error", err)
		}
	}
}

func (b *BalanceRefresher) refreshOne(ctx context.Context, p *models.Provider) (decimal.Decimal, error) {
	callCtx, cancel := upstream.WithTimeout(ctx, p)
	defer cancel()

	balance, err := b.client.FetchBalance(callCtx, p)
	if err != nil {
		telemetry.BalanceRefreshesTotal.WithLabelValues("failure").Inc()
		return decimal.Zero, err
	}

	if err := b.providers.UpdateBalance(ctx, p.ID, balance); err != nil {
		telemetry.BalanceRefreshesTotal.WithLabelValues("failure").Inc()
		return decimal.Zero, err
	}

	telemetry.BalanceRefreshesTotal.WithLabelValues("success").Inc()
	b.queue.Publish(events.Notification{
		Kind:       events.KindBalanceUpdated,
		ProviderID: p.ID,
		Message:    fmt.Sprintf("Balance updated for %s", p.Name),
		Data:       map[string]interface{}{"balance": balance.String()},
	})

	return balance, nil
}

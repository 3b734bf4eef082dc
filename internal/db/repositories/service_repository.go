package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/suitableit/smm-panel-backend/internal/db/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ServiceRepository handles database operations for imported provider
// services. Synchronization only ever updates rows that already exist;
// creating rows is the job of the import flow, which lives elsewhere.
type ServiceRepository struct {
	db *sqlx.DB
}

// NewServiceRepository creates a new ServiceRepository.
func NewServiceRepository(db *sqlx.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// ListByProvider returns all imported services for a provider.
func (r *ServiceRepository) ListByProvider(ctx context.Context, providerID int64) ([]models.ProviderService, error) {
	query := `
		SELECT id, provider_id, upstream_service_id, name, category, rate,
		       min_quantity, max_quantity, status, created_at, updated_at
		FROM provider_services
		WHERE provider_id = $1
		ORDER BY upstream_service_id
	`

	var services []models.ProviderService
	if err := r.db.SelectContext(ctx, &services, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to list provider services: %w", err)
	}

	return services, nil
}

// UpstreamUpdate carries the upstream catalog values applied to one
// imported service during a sync.
type UpstreamUpdate struct {
	UpstreamServiceID string
	Rate              decimal.Decimal
	MinQuantity       int
	MaxQuantity       int
	Status            string
}

// ErrServiceNotImported is returned when a sync update targets an
// upstream service that was never imported for the provider.
var ErrServiceNotImported = errors.New("service not imported")

// UpdateFromUpstream applies the upstream values to the matching
// imported row and reports whether the rate or status actually changed.
// Services that were never imported return ErrServiceNotImported so
// the sync can skip them.
func (r *ServiceRepository) UpdateFromUpstream(ctx context.Context, providerID int64, u UpstreamUpdate) (priceChanged, statusChanged bool, err error) {
	// Read-modify-write so we can report what changed. The unique
	// constraint on (provider_id, upstream_service_id) keeps this to a
	// single row.
	var old models.ProviderService
	selectQuery := `
		SELECT id, provider_id, upstream_service_id, name, category, rate,
		       min_quantity, max_quantity, status, created_at, updated_at
		FROM provider_services
		WHERE provider_id = $1 AND upstream_service_id = $2
	`
	err = r.db.GetContext(ctx, &old, selectQuery, providerID, u.UpstreamServiceID)
	if err == sql.ErrNoRows {
		return false, false, ErrServiceNotImported
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to load provider service: %w", err)
	}

	updateQuery := `
		UPDATE provider_services
		SET rate         = $2,
		    min_quantity = $3,
		    max_quantity = $4,
		    status       = $5,
		    updated_at   = $6
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, updateQuery,
		old.ID, u.Rate, u.MinQuantity, u.MaxQuantity, u.Status, time.Now(),
	); err != nil {
		return false, false, fmt.Errorf("failed to update provider service: %w", err)
	}

	return !old.Rate.Equal(u.Rate), old.Status != u.Status, nil
}

// DeleteByProvider removes every imported service for a provider. Used
// when a provider is permanently deleted without relying on cascades.
func (r *ServiceRepository) DeleteByProvider(ctx context.Context, providerID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM provider_services WHERE provider_id = $1`, providerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider services: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted provider services: %w", err)
	}

	return n, nil
}

// CountByProvider returns total and active imported service counts.
func (r *ServiceRepository) CountByProvider(ctx context.Context, providerID int64) (total, active int, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'active') AS active
		FROM provider_services
		WHERE provider_id = $1
	`, providerID)

	if scanErr := row.Scan(&total, &active); scanErr != nil {
		return 0, 0, fmt.Errorf("failed to count provider services: %w", scanErr)
	}

	return total, active, nil
}

// provider_repository.go provides database operations for upstream SMM providers.
// It covers CRUD, the trash lifecycle, balance patches, and sync bookkeeping.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/suitableit/smm-panel-backend/internal/db/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const providerColumns = `
	id, name, api_url, api_key, http_method,
	api_key_param, action_param,
	services_action, add_order_action, status_action,
	refill_action, refill_status_action, cancel_action, balance_action,
	services_endpoint, add_order_endpoint, status_endpoint,
	refill_endpoint, refill_status_endpoint, cancel_endpoint, balance_endpoint,
	request_format, response_format, response_mapping,
	rate_limit_per_min, timeout_seconds, current_balance,
	status, deleted_at, last_sync_at, created_at, updated_at`

// ProviderRepository handles database operations for providers.
type ProviderRepository struct {
	db *sqlx.DB
}

// NewProviderRepository creates a new ProviderRepository.
func NewProviderRepository(db *sqlx.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// ProviderFilter narrows List results. A nil Status means every
// non-trash state; Trash selects the trash view instead.
type ProviderFilter struct {
	Status *models.ProviderStatus
	Trash  bool
}

// List returns providers with derived service counts. By default trash
// rows are excluded; pass Trash to list the trash view instead.
func (r *ProviderRepository) List(ctx context.Context, filter ProviderFilter) ([]models.ProviderWithCounts, error) {
	query := `
		SELECT p.` + joinColumns("p") + `,
		       COUNT(s.id) AS service_count,
		       COUNT(s.id) FILTER (WHERE s.status = 'active') AS active_service_count
		FROM providers p
		LEFT JOIN provider_services s ON s.provider_id = p.id
	`

	var args []interface{}
	switch {
	case filter.Trash:
		query += ` WHERE p.status = 'trash'`
	case filter.Status != nil:
		query += ` WHERE p.status = $1`
		args = append(args, *filter.Status)
	default:
		query += ` WHERE p.status <> 'trash'`
	}

	query += `
		GROUP BY p.id
		ORDER BY p.name
	`

	var providers []models.ProviderWithCounts
	if err := r.db.SelectContext(ctx, &providers, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	return providers, nil
}

// GetByID returns a provider by id, or nil if not found. Trash rows are
// returned too; callers decide whether the lifecycle state matters.
func (r *ProviderRepository) GetByID(ctx context.Context, id int64) (*models.Provider, error) {
	query := `SELECT` + providerColumns + ` FROM providers WHERE id = $1`

	var p models.Provider
	err := r.db.GetContext(ctx, &p, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	return &p, nil
}

// Create inserts a new provider row and returns it with db-generated
// fields populated.
func (r *ProviderRepository) Create(ctx context.Context, p *models.Provider) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO providers (
			name, api_url, api_key, http_method,
			api_key_param, action_param,
			services_action, add_order_action, status_action,
			refill_action, refill_status_action, cancel_action, balance_action,
			services_endpoint, add_order_endpoint, status_endpoint,
			refill_endpoint, refill_status_endpoint, cancel_endpoint, balance_endpoint,
			request_format, response_format, response_mapping,
			rate_limit_per_min, timeout_seconds, current_balance,
			status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		p.Name, p.APIURL, p.APIKey, p.HTTPMethod,
		p.APIKeyParam, p.ActionParam,
		p.ServicesAction, p.AddOrderAction, p.StatusAction,
		p.RefillAction, p.RefillStatusAction, p.CancelAction, p.BalanceAction,
		p.ServicesEndpoint, p.AddOrderEndpoint, p.StatusEndpoint,
		p.RefillEndpoint, p.RefillStatusEndpoint, p.CancelEndpoint, p.BalanceEndpoint,
		p.RequestFormat, p.ResponseFormat, p.ResponseMapping,
		p.RateLimitPerMin, p.TimeoutSeconds, p.CurrentBalance,
		p.Status, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

// Update persists mutable fields of a provider.
func (r *ProviderRepository) Update(ctx context.Context, p *models.Provider) error {
	p.UpdatedAt = time.Now()

	query := `
		UPDATE providers
		SET name                   = $2,
		    api_url                = $3,
		    api_key                = $4,
		    http_method            = $5,
		    api_key_param          = $6,
		    action_param           = $7,
		    services_action        = $8,
		    add_order_action       = $9,
		    status_action          = $10,
		    refill_action          = $11,
		    refill_status_action   = $12,
		    cancel_action          = $13,
		    balance_action         = $14,
		    services_endpoint      = $15,
		    add_order_endpoint     = $16,
		    status_endpoint        = $17,
		    refill_endpoint        = $18,
		    refill_status_endpoint = $19,
		    cancel_endpoint        = $20,
		    balance_endpoint       = $21,
		    request_format         = $22,
		    response_format        = $23,
		    response_mapping       = $24,
		    rate_limit_per_min     = $25,
		    timeout_seconds        = $26,
		    status                 = $27,
		    updated_at             = $28
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name, p.APIURL, p.APIKey, p.HTTPMethod,
		p.APIKeyParam, p.ActionParam,
		p.ServicesAction, p.AddOrderAction, p.StatusAction,
		p.RefillAction, p.RefillStatusAction, p.CancelAction, p.BalanceAction,
		p.ServicesEndpoint, p.AddOrderEndpoint, p.StatusEndpoint,
		p.RefillEndpoint, p.RefillStatusEndpoint, p.CancelEndpoint, p.BalanceEndpoint,
		p.RequestFormat, p.ResponseFormat, p.ResponseMapping,
		p.RateLimitPerMin, p.TimeoutSeconds,
		p.Status, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}

	return nil
}

// SetStatus toggles a provider between active and inactive. Trash
// transitions go through MoveToTrash and Restore instead.
func (r *ProviderRepository) SetStatus(ctx context.Context, id int64, status models.ProviderStatus) error {
	if status != models.ProviderStatusActive && status != models.ProviderStatusInactive {
		return fmt.Errorf("invalid status transition to %q", status)
	}

	query := `
		UPDATE providers
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status <> 'trash'
	`

	res, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set provider status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// MoveToTrash marks a provider as trashed and removes its imported
// services in one transaction. Status and deleted_at change in the same
// statement so the two can never disagree, and the cascade cannot be
// lost between the two writes.
func (r *ProviderRepository) MoveToTrash(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trash transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE providers
		SET status = 'trash', deleted_at = $2, updated_at = $2
		WHERE id = $1 AND status <> 'trash'
	`

	res, err := tx.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to move provider to trash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_services WHERE provider_id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove imported services: %w", err)
	}

	return tx.Commit()
}

// Restore returns a trashed provider to active and clears deleted_at.
// Only rows currently in trash are affected.
func (r *ProviderRepository) Restore(ctx context.Context, id int64) error {
	query := `
		UPDATE providers
		SET status = 'active', deleted_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'trash'
	`

	res, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to restore provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// PermanentDelete removes a provider row; imported services cascade.
func (r *ProviderRepository) PermanentDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// UpdateBalance patches only the current_balance column. Concurrent
// edits to other fields are left alone.
func (r *ProviderRepository) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	query := `
		UPDATE providers
		SET current_balance = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, balance, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update provider balance: %w", err)
	}

	return nil
}

// TouchLastSync records a successful sync completion time.
func (r *ProviderRepository) TouchLastSync(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE providers
		SET last_sync_at = $2, updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to update provider last sync time: %w", err)
	}

	return nil
}

// ListActive returns every provider in the active state, ordered by id
// for deterministic bulk processing.
func (r *ProviderRepository) ListActive(ctx context.Context) ([]models.Provider, error) {
	query := `SELECT` + providerColumns + ` FROM providers WHERE status = 'active' ORDER BY id`

	var providers []models.Provider
	if err := r.db.SelectContext(ctx, &providers, query); err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}

	return providers, nil
}

// ListNonTrashed returns every provider outside the trash, ordered by
// id. Inactive providers are included; connection probing covers them
// even though sync does not.
func (r *ProviderRepository) ListNonTrashed(ctx context.Context) ([]models.Provider, error) {
	query := `SELECT` + providerColumns + ` FROM providers WHERE status <> 'trash' ORDER BY id`

	var providers []models.Provider
	if err := r.db.SelectContext(ctx, &providers, query); err != nil {
		return nil, fmt.Errorf("failed to list non-trashed providers: %w", err)
	}

	return providers, nil
}

// joinColumns prefixes each provider column with the given table alias
// for use in joined queries.
func joinColumns(alias string) string {
	cols := []string{
		"id", "name", "api_url", "api_key", "http_method",
		"api_key_param", "action_param",
		"services_action", "add_order_action", "status_action",
		"refill_action", "refill_status_action", "cancel_action", "balance_action",
		"services_endpoint", "add_order_endpoint", "status_endpoint",
		"refill_endpoint", "refill_status_endpoint", "cancel_endpoint", "balance_endpoint",
		"request_format", "response_format", "response_mapping",
		"rate_limit_per_min", "timeout_seconds", "current_balance",
		"status", "deleted_at", "last_sync_at", "created_at", "updated_at",
	}

	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + alias + "." + c
	}
	return out
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/suitableit/smm-panel-backend/internal/db/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SyncRunRepository handles database operations for sync run history.
type SyncRunRepository struct {
	db *sqlx.DB
}

// NewSyncRunRepository creates a new SyncRunRepository.
func NewSyncRunRepository(db *sqlx.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Create inserts a new running sync run row.
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.SyncRunRunning
	}

	query := `
		INSERT INTO provider_sync_runs (
			id, provider_id, started_at, status,
			services_updated, price_changes, status_changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.ProviderID,
		run.StartedAt,
		run.Status,
		run.ServicesUpdated,
		run.PriceChanges,
		run.StatusChanges,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}

	return nil
}

// Complete marks a sync run as finished with its outcome and counters.
func (r *SyncRunRepository) Complete(ctx context.Context, id uuid.UUID, status models.SyncRunStatus, updated, priceChanges, statusChanges int, errMsg *string) error {
	now := time.Now()

	query := `
		UPDATE provider_sync_runs
		SET status           = $2,
		    completed_at     = $3,
		    services_updated = $4,
		    price_changes    = $5,
		    status_changes   = $6,
		    error_message    = $7
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, status, now, updated, priceChanges, statusChanges, errMsg)
	if err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}

	return nil
}

// ListByProvider returns the most recent sync runs for a provider.
func (r *SyncRunRepository) ListByProvider(ctx context.Context, providerID int64, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, provider_id, started_at, completed_at, status,
		       services_updated, price_changes, status_changes, error_message
		FROM provider_sync_runs
		WHERE provider_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	var runs []models.SyncRun
	if err := r.db.SelectContext(ctx, &runs, query, providerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	return runs, nil
}

package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
)

// providerCols lists the SELECT columns for Provider queries.
var providerCols = []string{
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

func newProviderRepo(t *testing.T) (*ProviderRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewProviderRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func newProviderRow(mock sqlmock.Sqlmock, p *models.Provider) *sqlmock.Rows {
	rows := mock.NewRows(providerCols)
	rows.AddRow(
		p.ID, p.Name, p.APIURL, p.APIKey, p.HTTPMethod,
		p.APIKeyParam, p.ActionParam,
		p.ServicesAction, p.AddOrderAction, p.StatusAction,
		p.RefillAction, p.RefillStatusAction, p.CancelAction, p.BalanceAction,
		p.ServicesEndpoint, p.AddOrderEndpoint, p.StatusEndpoint,
		p.RefillEndpoint, p.RefillStatusEndpoint, p.CancelEndpoint, p.BalanceEndpoint,
		p.RequestFormat, p.ResponseFormat, p.ResponseMapping,
		p.RateLimitPerMin, p.TimeoutSeconds, p.CurrentBalance.String(),
		p.Status, p.DeletedAt, p.LastSyncAt, p.CreatedAt, p.UpdatedAt,
	)
	return rows
}

func testProvider() *models.Provider {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Provider{
		ID:                 42,
		Name:               "smmprovider",
		APIURL:             "https://smmprovider.example.com/api/v2",
		APIKey:             "secret-key",
		HTTPMethod:         models.MethodPost,
		APIKeyParam:        "key",
		ActionParam:        "action",
		ServicesAction:     "services",
		AddOrderAction:     "add",
		StatusAction:       "status",
		RefillAction:       "refill",
		RefillStatusAction: "refill_status",
		CancelAction:       "cancel",
		BalanceAction:      "balance",
		RequestFormat:      models.FormatForm,
		ResponseFormat:     models.FormatJSON,
		RateLimitPerMin:    60,
		TimeoutSeconds:     30,
		CurrentBalance:     decimal.NewFromFloat(125.50),
		Status:             models.ProviderStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// --- GetByID ---

func TestProviderGetByID_NotFound(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectQuery(`SELECT.*FROM providers`).
		WithArgs(int64(99)).
		WillReturnRows(mock.NewRows(providerCols))

	p, err := repo.GetByID(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil provider for not-found")
	}
}

func TestProviderGetByID_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)
	expected := testProvider()

	mock.ExpectQuery(`SELECT.*FROM providers`).
		WithArgs(expected.ID).
		WillReturnRows(newProviderRow(mock, expected))

	p, err := repo.GetByID(context.Background(), expected.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.ID != expected.ID || p.Name != expected.Name {
		t.Fatalf("unexpected provider: %+v", p)
	}
	if !p.CurrentBalance.Equal(expected.CurrentBalance) {
		t.Fatalf("balance mismatch: got %s, want %s", p.CurrentBalance, expected.CurrentBalance)
	}
}

func TestProviderGetByID_DBError(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectQuery(`SELECT.*FROM providers`).
		WithArgs(int64(1)).
		WillReturnError(fmt.Errorf("connection error"))

	_, err := repo.GetByID(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// --- Create ---

func TestProviderCreate_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)
	p := testProvider()
	p.ID = 0

	mock.ExpectQuery(`INSERT INTO providers`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 7 {
		t.Fatalf("expected generated id 7, got %d", p.ID)
	}
}

func TestProviderCreate_DBError(t *testing.T) {
	repo, mock := newProviderRepo(t)
	p := testProvider()

	mock.ExpectQuery(`INSERT INTO providers`).
		WillReturnError(fmt.Errorf("unique violation"))

	if err := repo.Create(context.Background(), p); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// --- Update ---

func TestProviderUpdate_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)
	p := testProvider()

	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- SetStatus ---

func TestProviderSetStatus_RejectsTrash(t *testing.T) {
	repo, _ := newProviderRepo(t)

	err := repo.SetStatus(context.Background(), 1, models.ProviderStatusTrash)
	if err == nil {
		t.Fatal("expected error for trash transition via SetStatus")
	}
}

func TestProviderSetStatus_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetStatus(context.Background(), 1, models.ProviderStatusInactive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProviderSetStatus_NotFound(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetStatus(context.Background(), 99, models.ProviderStatusActive)
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

// --- Trash lifecycle ---

func TestProviderMoveToTrash_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM provider_services WHERE provider_id = \$1`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := repo.MoveToTrash(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProviderMoveToTrash_AlreadyTrashed(t *testing.T) {
	repo, mock := newProviderRepo(t)

	// The guard `status <> 'trash'` matches no rows for an already
	// trashed provider.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.MoveToTrash(context.Background(), 42)
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestProviderMoveToTrash_ServiceDeleteFailureRollsBack(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM provider_services`).
		WillReturnError(fmt.Errorf("deadlock detected"))
	mock.ExpectRollback()

	err := repo.MoveToTrash(context.Background(), 42)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProviderRestore_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Restore(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProviderRestore_NotInTrash(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Restore(context.Background(), 42)
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestProviderPermanentDelete_Success(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`DELETE FROM providers`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.PermanentDelete(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProviderPermanentDelete_NotFound(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`DELETE FROM providers`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.PermanentDelete(context.Background(), 42)
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

// --- Balance and sync bookkeeping ---

func TestProviderUpdateBalance(t *testing.T) {
	repo, mock := newProviderRepo(t)

	mock.ExpectExec(`UPDATE providers`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateBalance(context.Background(), 42, decimal.NewFromFloat(99.25))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProviderTouchLastSync(t *testing.T) {
	repo, mock := newProviderRepo(t)
	at := time.Now()

	mock.ExpectExec(`UPDATE providers`).
		WithArgs(int64(42), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.TouchLastSync(context.Background(), 42, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- List ---

func TestProviderList_ExcludesTrashByDefault(t *testing.T) {
	repo, mock := newProviderRepo(t)
	p := testProvider()

	cols := append(append([]string{}, providerCols...), "service_count", "active_service_count")
	rows := mock.NewRows(cols)
	rows.AddRow(
		p.ID, p.Name, p.APIURL, p.APIKey, p.HTTPMethod,
		p.APIKeyParam, p.ActionParam,
		p.ServicesAction, p.AddOrderAction, p.StatusAction,
		p.RefillAction, p.RefillStatusAction, p.CancelAction, p.BalanceAction,
		p.ServicesEndpoint, p.AddOrderEndpoint, p.StatusEndpoint,
		p.RefillEndpoint, p.RefillStatusEndpoint, p.CancelEndpoint, p.BalanceEndpoint,
		p.RequestFormat, p.ResponseFormat, p.ResponseMapping,
		p.RateLimitPerMin, p.TimeoutSeconds, p.CurrentBalance.String(),
		p.Status, p.DeletedAt, p.LastSyncAt, p.CreatedAt, p.UpdatedAt,
		12, 10,
	)

	mock.ExpectQuery(`SELECT.*FROM providers p.*LEFT JOIN provider_services`).
		WillReturnRows(rows)

	providers, err := repo.List(context.Background(), ProviderFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(providers))
	}
	if providers[0].ServiceCount != 12 || providers[0].ActiveServiceCount != 10 {
		t.Fatalf("unexpected counts: %+v", providers[0])
	}
}

func TestProviderList_TrashView(t *testing.T) {
	repo, mock := newProviderRepo(t)

	cols := append(append([]string{}, providerCols...), "service_count", "active_service_count")
	mock.ExpectQuery(`WHERE p\.status = 'trash'`).
		WillReturnRows(mock.NewRows(cols))

	providers, err := repo.List(context.Background(), ProviderFilter{Trash: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(providers) != 0 {
		t.Fatalf("expected empty trash, got %d rows", len(providers))
	}
}

// --- ListActive ---

func TestProviderListActive(t *testing.T) {
	repo, mock := newProviderRepo(t)
	p := testProvider()

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(newProviderRow(mock, p))

	providers, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(providers) != 1 || providers[0].ID != p.ID {
		t.Fatalf("unexpected providers: %+v", providers)
	}
}

func TestProviderListNonTrashed(t *testing.T) {
	repo, mock := newProviderRepo(t)
	p := testProvider()
	p.Status = models.ProviderStatusInactive

	// Probe targets include inactive providers; only trash is excluded.
	mock.ExpectQuery(`WHERE status <> 'trash'`).
		WillReturnRows(newProviderRow(mock, p))

	providers, err := repo.ListNonTrashed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(providers) != 1 || providers[0].Status != models.ProviderStatusInactive {
		t.Fatalf("unexpected providers: %+v", providers)
	}
}

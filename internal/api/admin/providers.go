// providers.go implements the admin HTTP handlers for upstream SMM
// providers: CRUD, the trash lifecycle, connection probing, balance
// reads, and sync triggering.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
	"github.com/suitableit/smm-panel-backend/internal/db/repositories"
	"github.com/suitableit/smm-panel-backend/internal/events"
	syncpkg "github.com/suitableit/smm-panel-backend/internal/sync"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// Syncer is the subset of the sync orchestrator the handlers need.
type Syncer interface {
	SyncProvider(ctx context.Context, id int64, profitMargin *float64) (*models.SyncResult, error)
	SyncAll(ctx context.Context, profitMargin *float64) (*models.SyncSummary, error)
}

// Prober is the subset of the connection prober the handlers need.
type Prober interface {
	Test(ctx context.Context, p *models.Provider) (bool, error)
	TestAll(ctx context.Context) ([]syncpkg.ProbeResult, error)
	State(id int64) syncpkg.ConnectionState
	Forget(id int64)
}

// BalanceRefresher is the subset of the balance refresher the handlers
// need.
type BalanceRefresher interface {
	Refresh(ctx context.Context, id int64) (decimal.Decimal, error)
	RefreshAll(ctx context.Context)
}

// ScheduleFunc runs fn after a fixed delay; production wiring uses
// safego.GoAfter so a panic in fn cannot take the process down.
type ScheduleFunc func(fn func())

// ProviderHandler handles admin endpoints for providers.
type ProviderHandler struct {
	providers *repositories.ProviderRepository
	services  *repositories.ServiceRepository
	runs      *repositories.SyncRunRepository
	syncer    Syncer
	prober    Prober
	balances  BalanceRefresher
	queue     *events.Queue

	// scheduleBalanceRefresh defers the post-probe and post-sync
	// balance refresh so connectivity checks and catalog syncs are not
	// immediately followed by another upstream burst.
	scheduleBalanceRefresh ScheduleFunc
}

// NewProviderHandler creates a new ProviderHandler.
func NewProviderHandler(
	providers *repositories.ProviderRepository,
	services *repositories.ServiceRepository,
	runs *repositories.SyncRunRepository,
	syncer Syncer,
	prober Prober,
	balances BalanceRefresher,
	queue *events.Queue,
	schedule ScheduleFunc,
) *ProviderHandler {
	if schedule == nil {
		schedule = func(fn func()) { fn() }
	}
	return &ProviderHandler{
		providers:              providers,
		services:               services,
		runs:                   runs,
		syncer:                 syncer,
		prober:                 prober,
		balances:               balances,
		queue:                  queue,
		scheduleBalanceRefresh: schedule,
	}
}

// providerView decorates a provider with its transient connection
// state for list and detail responses.
type providerView struct {
	models.ProviderWithCounts
	ConnectionStatus string `json:"connectionStatus"`
}

// ---- GET /api/v1/providers?filter={all|active|inactive|trash} --------------

// List returns providers filtered by lifecycle state. The default
// view excludes trash; filter=trash selects the trash view.
func (h *ProviderHandler) List(c *gin.Context) {
	var filter repositories.ProviderFilter

	switch c.DefaultQuery("filter", "all") {
	case "all":
	case "active":
		s := models.ProviderStatusActive
		filter.Status = &s
	case "inactive":
		s := models.ProviderStatusInactive
		filter.Status = &s
	case "trash":
		filter.Trash = true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid filter"})
		return
	}

	providers, err := h.providers.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to list providers"})
		return
	}

	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, providerView{
			ProviderWithCounts: p,
			ConnectionStatus:   string(h.prober.State(p.ID)),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"providers": views},
	})
}

// ---- POST /api/v1/providers -------------------------------------------------

// Create registers a new provider. Omitted mapping fields fall back to
// the standard SMM panel API conventions.
func (h *ProviderHandler) Create(c *gin.Context) {
	var req models.CreateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	req.ApplyDefaults()

	if err := validateCreateRequest(&req); err != "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err})
		return
	}

	p := providerFromCreateRequest(&req)
	if err := h.providers.Create(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create provider"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Provider created",
		"data":    gin.H{"provider": p},
	})
}

// ---- PUT /api/v1/providers --------------------------------------------------

// Update applies a partial update; absent fields keep their stored
// values. A status-only patch toggles active/inactive without touching
// the connection config.
func (h *ProviderHandler) Update(c *gin.Context) {
	var req struct {
		ID int64 `json:"id"`
		models.UpdateProviderRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Provider id is required"})
		return
	}

	p, err := h.providers.GetByID(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load provider"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Provider not found"})
		return
	}
	if p.Status == models.ProviderStatusTrash {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Provider is in trash"})
		return
	}

	if msg := applyUpdateRequest(p, &req.UpdateProviderRequest); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
		return
	}

	if err := h.providers.Update(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to update provider"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Provider updated"})
}

// ---- DELETE /api/v1/providers?id={id}&type={trash|permanent} ----------------

// Delete moves a provider to trash, or removes it permanently. Both
// variants delete the provider's imported services; only the permanent
// variant is irreversible.
func (h *ProviderHandler) Delete(c *gin.Context) {
	idParam := c.Query("id")
	if idParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Cannot delete unconfigured provider"})
		return
	}
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Cannot delete unconfigured provider"})
		return
	}

	deleteType := c.DefaultQuery("type", "trash")
	switch deleteType {
	case "trash":
		h.moveToTrash(c, id)
	case "permanent":
		h.permanentDelete(c, id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid delete type"})
	}
}

func (h *ProviderHandler) moveToTrash(c *gin.Context, id int64) {
	ctx := c.Request.Context()

	// MoveToTrash also drops the imported catalog; a later restore
	// re-imports rather than resurrecting stale rows.
	if err := h.providers.MoveToTrash(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Provider not found or already in trash"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to move provider to trash"})
		return
	}

	h.queue.Publish(events.Notification{
		Kind:       events.KindProviderTrashed,
		ProviderID: id,
		Message:    "Provider moved to trash",
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Provider moved to trash"})
}

func (h *ProviderHandler) permanentDelete(c *gin.Context, id int64) {
	ctx := c.Request.Context()

	if _, err := h.services.DeleteByProvider(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to remove imported services"})
		return
	}

	if err := h.providers.PermanentDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to delete provider"})
		return
	}

	h.prober.Forget(id)
	h.queue.Publish(events.Notification{
		Kind:       events.KindProviderDeleted,
		ProviderID: id,
		Message:    "Provider permanently deleted",
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Provider permanently deleted"})
}

// ---- PATCH /api/v1/providers?id={id}&action=restore -------------------------

// Restore brings a trashed provider back to active.
func (h *ProviderHandler) Restore(c *gin.Context) {
	if c.Query("action") != "restore" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Unsupported action"})
		return
	}

	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Provider id is required"})
		return
	}

	if err := h.providers.Restore(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Only providers in trash can be restored"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to restore provider"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Provider restored"})
}

// ---- POST /api/v1/providers/:id/test-connection -----------------------------

// TestConnection probes one provider and reports reachability.
func (h *ProviderHandler) TestConnection(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid provider id"})
		return
	}

	p, err := h.providers.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load provider"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Provider not found"})
		return
	}

	connected, _ := h.prober.Test(c.Request.Context(), p)
	c.JSON(http.StatusOK, gin.H{"connected": connected})
}

// ---- POST /api/v1/providers/test-all-connections ----------------------------

// TestAll probes every non-trashed provider and schedules a deferred
// balance refresh for the batch.
func (h *ProviderHandler) TestAll(c *gin.Context) {
	results, err := h.prober.TestAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to test connections"})
		return
	}

	h.scheduleBalanceRefresh(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		h.balances.RefreshAll(ctx)
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

// ---- GET /api/v1/providers/balance?providerId={id} --------------------------

// GetBalance fetches one provider's upstream balance and patches it
// onto the record.
func (h *ProviderHandler) GetBalance(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("providerId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Provider id is required"})
		return
	}

	balance, err := h.balances.Refresh(c.Request.Context(), id)
	if err != nil {
		status, msg := upstreamErrorResponse(err)
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"balance": balance},
	})
}

// ---- POST /api/v1/providers/sync --------------------------------------------

// SyncRequest triggers a single or bulk synchronization. ProfitMargin
// is a percentage markup applied to upstream rates; omitted means the
// configured default.
type SyncRequest struct {
	ProviderID   *int64   `json:"providerId"`
	SyncType     string   `json:"syncType"`
	ProfitMargin *float64 `json:"profitMargin"`
}

// Sync runs one provider's sync, or a bulk sync over every active
// provider. Single-provider syncs schedule a deferred balance refresh
// for that provider.
func (h *ProviderHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if req.SyncType == "all" {
		h.syncAll(c, req.ProfitMargin)
		return
	}

	if req.ProviderID == nil || *req.ProviderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Provider id is required"})
		return
	}
	h.syncOne(c, *req.ProviderID, req.ProfitMargin)
}

func (h *ProviderHandler) syncOne(c *gin.Context, id int64, profitMargin *float64) {
	result, err := h.syncer.SyncProvider(c.Request.Context(), id, profitMargin)
	if err != nil {
		if errors.Is(err, syncpkg.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Sync already in progress"})
			return
		}
		status, msg := upstreamErrorResponse(err)
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	h.scheduleBalanceRefresh(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		_, _ = h.balances.Refresh(ctx, id)
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"results": []models.SyncResult{*result},
			"totals": models.SyncTotals{
				Updated:      result.Updated,
				PriceChanges: result.PriceChanges,
				StatusChange: result.StatusChange,
			},
			"providersProcessed": 1,
		},
	})
}

func (h *ProviderHandler) syncAll(c *gin.Context, profitMargin *float64) {
	summary, err := h.syncer.SyncAll(c.Request.Context(), profitMargin)
	if err != nil {
		if errors.Is(err, syncpkg.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Sync already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to sync providers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"results":            summary.Results,
			"totals":             summary.Totals,
			"providersProcessed": summary.ProvidersProcessed,
		},
	})
}

// ---- GET /api/v1/providers/:id/sync-runs ------------------------------------

// ListSyncRuns returns a provider's recent sync history.
func (h *ProviderHandler) ListSyncRuns(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid provider id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runs.ListByProvider(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to list sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"syncRuns": runs},
	})
}

// ---- GET /api/v1/notifications ----------------------------------------------

// ListNotifications returns the live entries of the notification
// queue.
func (h *ProviderHandler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"notifications": h.queue.List()},
	})
}

// upstreamErrorResponse maps a classified upstream error onto the HTTP
// status and client message.
func upstreamErrorResponse(err error) (int, string) {
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, "Unexpected error"
	}

	switch ue.Kind {
	case upstream.KindValidation:
		if ue.Message == "Provider not found" {
			return http.StatusNotFound, ue.Message
		}
		return http.StatusBadRequest, ue.Message
	case upstream.KindConnection:
		return http.StatusBadGateway, ue.Message
	case upstream.KindTimeout:
		return http.StatusGatewayTimeout, ue.Message
	case upstream.KindUpstream:
		return http.StatusBadGateway, ue.Message
	}
	return http.StatusInternalServerError, ue.Message
}

// Package api assembles the HTTP surface of the panel backend: the Gin
// router, the global middleware chain, and the system endpoints.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/suitableit/smm-panel-backend/internal/api/admin"
	"github.com/suitableit/smm-panel-backend/internal/config"
	"github.com/suitableit/smm-panel-backend/internal/db/repositories"
	"github.com/suitableit/smm-panel-backend/internal/events"
	"github.com/suitableit/smm-panel-backend/internal/jobs"
	"github.com/suitableit/smm-panel-backend/internal/middleware"
	"github.com/suitableit/smm-panel-backend/internal/safego"
	syncpkg "github.com/suitableit/smm-panel-backend/internal/sync"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// when the process receives a termination signal.
type BackgroundServices struct {
	syncJob      *jobs.ProviderSyncJob
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained
// first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.syncJob != nil {
		bg.syncJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, sqlDB *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	providerRepo := repositories.NewProviderRepository(sqlxDB)
	serviceRepo := repositories.NewServiceRepository(sqlxDB)
	runRepo := repositories.NewSyncRunRepository(sqlxDB)

	client := upstream.NewClient()
	queue := events.NewQueue(cfg.Sync.NotificationTTL)
	prober := syncpkg.NewProber(client, providerRepo, cfg.Sync.ProbeTimeout)
	orchestrator := syncpkg.NewOrchestrator(providerRepo, serviceRepo, runRepo, client, prober, queue, cfg.Sync.ProviderTimeout, cfg.Sync.BulkTimeout, cfg.Sync.DefaultProfitMargin)
	balances := syncpkg.NewBalanceRefresher(providerRepo, client, queue)

	// Balance refreshes triggered by probes and single-provider syncs run
	// shortly after the triggering request returns, off the request
	// goroutine.
	schedule := func(fn func()) {
		safego.GoAfter(cfg.Sync.BalanceRefreshDelay, fn)
	}

	providerHandler := admin.NewProviderHandler(
		providerRepo, serviceRepo, runRepo,
		orchestrator, prober, balances,
		queue, schedule,
	)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(sqlDB))
	router.GET("/ready", readinessHandler(sqlDB))
	router.GET("/version", versionHandler())

	syncJob := jobs.NewProviderSyncJob(orchestrator, cfg.Sync.AutoSyncInterval)
	syncJob.Start(context.Background())

	bg := &BackgroundServices{syncJob: syncJob}

	v1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		apiLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
		})
		bg.rateLimiters = append(bg.rateLimiters, apiLimiter)
		v1.Use(middleware.RateLimit(apiLimiter))
	}
	v1.Use(middleware.Auth(cfg))

	providers := v1.Group("/providers")
	{
		providers.GET("", providerHandler.List)
		providers.POST("", providerHandler.Create)
		providers.PUT("", providerHandler.Update)
		providers.DELETE("", providerHandler.Delete)
		providers.PATCH("", providerHandler.Restore)

		providers.POST("/:id/test-connection", providerHandler.TestConnection)
		providers.POST("/test-all-connections", providerHandler.TestAll)
		providers.GET("/balance", providerHandler.GetBalance)
		providers.GET("/:id/sync-runs", providerHandler.ListSyncRuns)
	}

	// Sync triggers fan out to every active provider upstream, so they get
	// a much tighter rate limit than the rest of the admin API.
	syncGroup := v1.Group("/providers/sync")
	if cfg.Security.RateLimiting.Enabled {
		syncLimiter := middleware.NewRateLimiter(middleware.SyncRateLimitConfig())
		bg.rateLimiters = append(bg.rateLimiters, syncLimiter)
		syncGroup.Use(middleware.RateLimit(syncLimiter))
	}
	syncGroup.POST("", providerHandler.Sync)

	v1.GET("/notifications", providerHandler.ListNotifications)

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. The panel
// backend has no hard dependency beyond the database; upstream providers
// are probed on demand and must not gate readiness.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

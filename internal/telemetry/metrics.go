// Package telemetry provides application-level observability for the panel backend.
//
// All metrics are registered against the default Prometheus registry and are
// served on a side-channel HTTP server started by cmd/server (default port
// 9090, configurable with SMM_TELEMETRY_METRICS_PROMETHEUS_PORT). The endpoint
// is not part of the Gin router so it stays off the public ingress path.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/providers/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Provider sync metrics — recorded by the sync orchestrator.
//
// ProviderSyncDuration observes one complete sync of a single provider.
// ProviderSyncErrorsTotal is labelled by provider id and failure kind
// (connection, timeout, upstream) so alerts can distinguish a dead
// upstream from a misconfigured one.
var (
	ProviderSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_sync_duration_seconds",
			Help:    "Duration of a single provider catalog sync operation.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProviderSyncErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_sync_errors_total",
			Help: "Total number of failed provider sync attempts, by provider ID and failure kind.",
		},
		[]string{"provider_id", "kind"},
	)

	ProviderSyncServicesUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_sync_services_updated_total",
			Help: "Total number of imported services updated by sync runs.",
		},
	)
)

// Connection probe metrics — recorded by the connection prober.
// The result label is "connected" or "disconnected".
var ConnectionProbesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_connection_probes_total",
		Help: "Total number of provider connection probes, by result.",
	},
	[]string{"result"},
)

// Balance refresh metrics — recorded by the balance refresher.
// The status label is "success" or "failure".
var BalanceRefreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_balance_refreshes_total",
		Help: "Total number of upstream balance fetches, by status.",
	},
	[]string{"status"},
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. It is sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits when the database becomes
// unreachable, which happens automatically on shutdown once db.Close() runs.
//
// Call this once, immediately after db.Connect() succeeds in cmd/server.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}

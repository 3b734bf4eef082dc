package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suitableit/smm-panel-backend/internal/telemetry"
)

// Metrics records request count and latency for every request that
// passes through the router.
//
// The path label is taken from c.FullPath(), the matched route template
// (e.g. /api/v1/providers/:id/sync) rather than the raw URL. Requests
// that match no registered route use the literal "<no-route>" so
// unhandled paths cannot inflate label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

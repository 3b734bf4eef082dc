// Package middleware provides Gin HTTP middleware for the SMM panel
// backend: request identification, authentication, rate limiting,
// security headers, and Prometheus metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Security → RateLimit → Auth → Handler
//
// Security headers run before rate limiting so they appear on 429
// responses too. Rate limiting runs before auth so brute-force traffic
// is shed before any token work.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request
	// identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID is
	// stored for handlers and logging.
	RequestIDKey = "request_id"
)

// RequestID ensures every request carries a unique identifier. An
// inbound X-Request-ID (set by a load balancer or upstream proxy) is
// reused unchanged; otherwise a new UUID is generated. The value is
// echoed back in the response header so clients can correlate their
// request with server-side log entries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

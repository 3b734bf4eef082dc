// ratelimit.go provides Gin middleware that enforces per-client token
// bucket rate limits, returning 429 when the configured
// requests-per-minute threshold is exceeded.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client.
	RequestsPerMinute int
	// BurstSize is the maximum burst allowed above the sustained rate.
	BurstSize int
	// CleanupInterval is how often idle client entries are dropped.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns limits suited to the admin API, where
// a single dashboard load fans out into several requests.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// SyncRateLimitConfig returns stricter limits for sync trigger
// endpoints, which fan out to upstream providers.
func SyncRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         3,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client key.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	clients map[string]*clientLimiter
	stopCh  chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientLimiter),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, c := range rl.clients {
				if now.Sub(c.lastSeen) > 10*time.Minute {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop terminates the cleanup loop.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.config.RequestsPerMinute)/60.0), rl.config.BurstSize),
		}
		rl.clients[key] = c
	}
	c.lastSeen = time.Now()

	return c.limiter.Allow()
}

// RateLimit creates a Gin middleware enforcing the given limiter.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(rateLimitKey(c)) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Rate limit exceeded",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))

		c.Next()
	}
}

// rateLimitKey picks the bucket key: authenticated admin subject when
// present, client IP otherwise.
func rateLimitKey(c *gin.Context) string {
	if sub, exists := c.Get(AuthSubjectKey); exists {
		if s, ok := sub.(string); ok && s != "" {
			return "sub:" + s
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

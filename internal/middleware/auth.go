package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/suitableit/smm-panel-backend/internal/config"
)

// AuthSubjectKey is the gin.Context key holding the authenticated
// admin subject.
const AuthSubjectKey = "auth_subject"

// AdminClaims are the JWT claims issued to admin sessions.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates the Bearer JWT on admin routes and stores the subject
// in the request context. With auth disabled in config (local
// development only) every request passes with a fixed subject.
func Auth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Auth.Disabled {
			c.Set(AuthSubjectKey, "dev")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Missing authorization header",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" || token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization header must be a Bearer token",
			})
			return
		}

		claims := &AdminClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(cfg.Auth.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
			})
			return
		}

		if claims.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Admin access required",
			})
			return
		}

		c.Set(AuthSubjectKey, claims.Subject)

		c.Next()
	}
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"terminal-payment-backend/internal/shared/response"
	"terminal-payment-backend/pkg/jwt"
	"terminal-payment-backend/pkg/logger"
)

// Context keys set by StaffAuth
const (
	ContextStaffID    = "staff_id"
	ContextLocationID = "location_id"
	ContextRole       = "role"
)

// StaffAuth requires a valid staff or admin bearer token
func StaffAuth(tokens *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Authorization: Bearer <token>
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			response.Unauthorized(c, "invalid authorization header format")
			return
		}

		// 2. Verify signature, expiry and role
		claims, err := tokens.ValidateToken(token)
		if err != nil {
			logger.Warn("Rejected staff token", map[string]interface{}{
				"error": err.Error(),
				"path":  c.Request.URL.Path,
			})
			response.Unauthorized(c, "invalid token")
			return
		}

		// 3. Expose the caller to handlers
		c.Set(ContextStaffID, claims.StaffID)
		c.Set(ContextLocationID, claims.LocationID)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// RequireRole must run after StaffAuth
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient role")
	}
}

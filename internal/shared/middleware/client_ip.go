package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"terminal-payment-backend/internal/shared/utils"
)

type clientIPKey struct{}

// ClientIP stores the caller address in both the gin and the request context
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := utils.ExtractClientIP(c)

		c.Set("client_ip", ip)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), clientIPKey{}, ip))

		c.Next()
	}
}

// ClientIPFromContext returns "" when ClientIP did not run
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/shared/response"
)

// Recovery turns a handler panic into a 500 envelope. A panic after the
// handler already wrote its status only aborts the chain.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			log.Error().
				Str("request_id", c.GetString(RequestIDKey)).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("[HTTP] Panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.AbortWithError(c, http.StatusInternalServerError, "SYS_001", "Internal server error")
		}()

		c.Next()
	}
}

package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"terminal-payment-backend/internal/shared/response"
	"terminal-payment-backend/pkg/cache"
	"terminal-payment-backend/pkg/logger"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	idempotencyLockTTL = 30 * time.Second
)

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the first 2xx response for a repeated Idempotency-Key.
// Requests without the header pass through untouched. A second request that
// arrives while the first is still running gets 409.
func Idempotency(store cache.Cache, scope string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		responseKey := fmt.Sprintf("idempotency:%s:%s", scope, key)
		lockKey := responseKey + ":lock"

		// 1. Replay a finished request
		var stored storedResponse
		found, err := store.Get(ctx, responseKey, &stored)
		if err != nil {
			logger.Error("Idempotency lookup failed", err)
		}
		if found {
			c.Header(ReplayedHeader, "true")
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			c.Abort()
			return
		}

		// 2. Claim the key for this request
		acquired, err := store.SetNX(ctx, lockKey, true, idempotencyLockTTL)
		if err != nil {
			logger.Error("Idempotency lock failed", err)
			c.Next()
			return
		}
		if !acquired {
			response.AbortWithError(c, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this Idempotency-Key is still in progress")
			return
		}
		defer func() { _ = store.Delete(ctx, lockKey) }()

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		// 3. Remember successful responses only, so a failed start can be retried
		status := writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		if err := store.Set(ctx, responseKey, storedResponse{Status: status, Body: writer.body.Bytes()}, ttl); err != nil {
			logger.Error("Failed to store idempotent response", err)
		}
	}
}

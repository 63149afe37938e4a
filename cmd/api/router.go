package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"terminal-payment-backend/internal/shared/middleware"
	"terminal-payment-backend/pkg/container"
	"terminal-payment-backend/pkg/jwt"
)

func SetupRouter(c *container.Container) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.CORS(),
		middleware.ClientIP(),
	)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})))

	// Legacy gateway registration still points at the singular path
	setupLegacyWebhookRoutes(router, c)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheckHandler(c))

		setupTerminalRoutes(v1, c)
		setupWebhookRoutes(v1, c)
	}

	return router
}

// ========================================
// TERMINAL ROUTES
// ========================================
func setupTerminalRoutes(v1 *gin.RouterGroup, c *container.Container) {
	h := c.TerminalHandler
	staffOnly := []gin.HandlerFunc{
		middleware.StaffAuth(c.JWTManager),
		middleware.RequireRole(jwt.RoleStaff, jwt.RoleAdmin),
	}

	payments := v1.Group("/terminal/payments")
	{
		payments.POST("",
			middleware.Idempotency(c.Cache, "terminal_start", c.Config.Terminal.IdempotencyTTL),
			h.StartPayment,
		)
		payments.GET("/:key", middleware.NoCache(), h.GetPaymentStatus)
		payments.POST("/:key/cancel", h.CancelPayment)

		payments.POST("/complete", append(staffOnly, h.CompletePayment)...)
		payments.POST("/complete-by-invoice", append(staffOnly, h.CompleteByInvoice)...)
	}

	v1.GET("/terminal/webhooks/last", middleware.NoCache(), h.LastCompletedWebhook)

	v1.GET("/terminal/reports/commissions",
		middleware.StaffAuth(c.JWTManager),
		middleware.RequireRole(jwt.RoleAdmin),
		c.ReportHandler.ExportCommissions,
	)
}

// ========================================
// WEBHOOK ROUTES
// ========================================
func setupWebhookRoutes(v1 *gin.RouterGroup, c *container.Container) {
	h := c.WebhookHandler

	webhooks := v1.Group("/webhooks/helcim")
	{
		webhooks.GET("", h.Validate)
		webhooks.POST("", h.Receive)

		if !c.Config.IsProduction() {
			webhooks.POST("/simulate", h.Simulate)
		}
	}
}

func setupLegacyWebhookRoutes(router *gin.Engine, c *container.Container) {
	h := c.WebhookHandler

	router.GET("/webhook/helcim", h.LegacyStatus)
	router.POST("/webhook/helcim", h.Receive)
}

// ========================================
// HEALTH CHECK HANDLER
// ========================================
func healthCheckHandler(appCtx *container.Container) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		health := gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   appCtx.Config.App.Version,
		}

		// Check database
		dbStatus := "ok"
		if appCtx.DB == nil || appCtx.DB.Pool == nil {
			dbStatus = "disconnected"
		} else if err := appCtx.DB.HealthCheck(ctx); err != nil {
			dbStatus = "error: " + err.Error()
		}

		// Check redis
		redisStatus := "ok"
		if appCtx.Redis == nil {
			redisStatus = "disconnected"
		} else if err := appCtx.Redis.HealthCheck(ctx); err != nil {
			redisStatus = "error: " + err.Error()
		}

		if appCtx.DB != nil {
			if stats := appCtx.DB.Stats(); stats != nil {
				health["db_pool"] = stats
			}
		}

		health["services"] = gin.H{
			"database": dbStatus,
			"redis":    redisStatus,
			"store":    appCtx.Config.Terminal.StoreBackend,
			"gateway":  appCtx.Config.Helcim.Provider,
		}

		statusCode := http.StatusOK
		if dbStatus != "ok" || redisStatus != "ok" {
			health["status"] = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, health)
	}
}

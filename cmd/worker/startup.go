package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/pkg/container"
)

// HealthChecker performs startup and liveness checks
type HealthChecker struct {
	container *container.Container
}

// startServices runs the startup checks and brings up the health server
func startServices(c *container.Container, cfg *Config) (*http.Server, error) {
	log.Info().Msg("============================================")
	log.Info().Msg("🚀 Terminal Payment Worker Starting...")
	log.Info().Msg("============================================")

	checker := &HealthChecker{container: c}
	if err := checker.checkAll(context.Background()); err != nil {
		return nil, err
	}

	return startHealthCheckServer(checker, cfg.HealthAddr), nil
}

// checkAll runs all health checks in order
func (h *HealthChecker) checkAll(ctx context.Context) error {
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"Redis Connection", h.checkRedis},
		{"PostgreSQL Connection", h.checkDatabase},
	}

	for _, check := range checks {
		log.Info().Msgf("⏳ Checking %s...", check.name)
		if err := check.fn(ctx); err != nil {
			log.Error().Err(err).Msgf("❌ %s", check.name)
			return fmt.Errorf("%s failed: %w", check.name, err)
		}
		log.Info().Msgf("✓ %s: OK", check.name)
	}

	return nil
}

func (h *HealthChecker) checkRedis(ctx context.Context) error {
	if h.container.Redis == nil {
		return errors.New("redis client is not connected")
	}
	return h.container.Redis.HealthCheck(ctx)
}

func (h *HealthChecker) checkDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return h.container.DB.HealthCheck(ctx)
}

// startHealthCheckServer serves /health (liveness) and /ready (dependencies)
func startHealthCheckServer(h *HealthChecker, addr string) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "terminal-payment-worker"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := h.checkAll(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "READY"})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("[Health] Starting health check server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("[Health] Failed to start")
		}
	}()

	return srv
}

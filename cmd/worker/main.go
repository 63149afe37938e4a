package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/pkg/container"
	"terminal-payment-backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	logger.Init(getEnv("APP_ENV", "development"), getEnv("LOG_LEVEL", "info"))
	gin.SetMode(gin.ReleaseMode)

	c, err := container.NewContainer()
	if err != nil {
		log.Fatal().Err(err).Msg("[Container] Failed to initialize")
	}
	defer c.Cleanup()

	cfg := loadConfig(c.Config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := initializeHandlers(c, cfg)

	health, err := startServices(c, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("[Startup] Health check failed")
	}

	srv := setupAsynqServer(c, handlers)
	scheduler := setupScheduler(c)

	c.RunBackground(ctx)

	consumerDone := make(chan struct{})
	if handlers.consumer != nil {
		go func() {
			defer close(consumerDone)
			if err := handlers.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("[KAFKA] Consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
	}

	<-ctx.Done()
	log.Info().Msg("[Shutdown] Gracefully stopping...")

	scheduler.Shutdown()
	srv.Shutdown()

	<-consumerDone
	if handlers.consumer != nil {
		if err := handlers.consumer.Close(); err != nil {
			log.Warn().Err(err).Msg("[KAFKA] Close failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)

	log.Info().Msg("[Shutdown] ✓ Stopped")
}

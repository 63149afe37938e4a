package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/pkg/container"
)

func Serve() {
	// ========================================
	// 1. BUILD DI CONTAINER
	// ========================================
	appContainer, err := container.NewContainer()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize container")
	}
	defer appContainer.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================
	// 2. BACKGROUND LOOPS (store janitor, pool monitor)
	// ========================================
	appContainer.RunBackground(ctx)

	// ========================================
	// 3. EMBEDDED WORKER
	// ========================================
	// Required with the memory store: the worker must see the same sessions
	var worker *asynq.Server
	if appContainer.Config.Queue.WorkerEmbedded {
		worker = queue.NewServer(appContainer.RedisOpt, appContainer.Config.Queue.Concurrency)
		mux := asynq.NewServeMux()
		appContainer.RegisterJobHandlers(mux)

		if err := worker.Start(mux); err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to start embedded worker")
		}
		log.Info().Int("concurrency", appContainer.Config.Queue.Concurrency).Msg("✅ Embedded worker started")
	}

	// ========================================
	// 4. CONFIGURE HTTP SERVER
	// ========================================
	router := SetupRouter(appContainer)

	port := appContainer.Config.App.Port
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", port),
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("port", port).Msg("🚀 Server starting")
		log.Info().Str("url", fmt.Sprintf("http://localhost:%s/api/v1/health", port)).Msg("💚 Health Check")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("❌ Failed to start server")
		}
	}()

	// ========================================
	// 5. GRACEFUL SHUTDOWN
	// ========================================
	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("⚠️  Server forced to shutdown")
	}

	// Stop pulling tasks before the container closes the pool they use
	if worker != nil {
		worker.Shutdown()
		log.Info().Msg("✅ Embedded worker stopped")
	}

	log.Info().Msg("✅ Server exited gracefully")
}

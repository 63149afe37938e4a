package main

import (
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/pkg/container"
)

// asynqServer wraps asynq.Server with start/stop logging
type asynqServer struct {
	*asynq.Server
}

// setupAsynqServer creates the server and starts processing in the background
func setupAsynqServer(c *container.Container, handlers *HandlerRegistry) *asynqServer {
	mux := asynq.NewServeMux()
	handlers.RegisterHandlers(mux)

	srv := queue.NewServer(c.RedisOpt, c.Config.Queue.Concurrency)

	log.Info().Int("concurrency", c.Config.Queue.Concurrency).Msg("[Worker] Starting...")
	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("[Worker] Failed")
	}

	return &asynqServer{Server: srv}
}

// Shutdown waits for in-flight tasks up to asynq's ShutdownTimeout
func (s *asynqServer) Shutdown() {
	log.Info().Msg("[Worker] Shutting down...")
	s.Server.Shutdown()
	log.Info().Msg("[Worker] ✓ Gracefully stopped")
}

package main

import (
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/pkg/container"
)

// asynqScheduler wraps queue.Scheduler with start/stop logging
type asynqScheduler struct {
	*queue.Scheduler
}

// setupScheduler registers the periodic reconcile sweep and starts it
func setupScheduler(c *container.Container) *asynqScheduler {
	scheduler := queue.NewScheduler(c.RedisOpt, c.Config.Job)

	if err := scheduler.RegisterJobs(); err != nil {
		log.Fatal().Err(err).Msg("[Scheduler] Failed to register")
	}

	log.Info().Msg("[Scheduler] Starting...")
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("[Scheduler] Failed")
	}

	return &asynqScheduler{Scheduler: scheduler}
}

// Shutdown stops enqueuing scheduled tasks
func (s *asynqScheduler) Shutdown() {
	log.Info().Msg("[Scheduler] Shutting down...")
	s.Scheduler.Shutdown()
	log.Info().Msg("[Scheduler] ✓ Stopped")
}

package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/pkg/logger"
)

type Scheduler struct {
	scheduler *asynq.Scheduler
	jobConfig config.JobConfig
}

func NewScheduler(opt asynq.RedisClientOpt, jobConfig config.JobConfig) *Scheduler {
	scheduler := asynq.NewScheduler(
		opt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{
		scheduler: scheduler,
		jobConfig: jobConfig,
	}
}

func (s *Scheduler) RegisterJobs() error {
	if err := s.registerReconcilePendingJob(); err != nil {
		return err
	}

	return nil
}

// ================================================
// JOB: Reconcile Pending Payments (JOB_RECONCILE_CRON, default every 5 min)
// ================================================
// Catches payments whose webhook never arrived or whose session was
// evicted before anybody polled it.
func (s *Scheduler) registerReconcilePendingJob() error {
	payload, err := json.Marshal(shared.ReconcilePendingPayload{Limit: s.jobConfig.ReconcileBatchSize})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeReconcilePending, payload)

	_, err = s.scheduler.Register(
		s.jobConfig.ReconcileCron,
		task,
		asynq.Queue(shared.QueueTerminal),
		asynq.MaxRetry(1),
		asynq.Timeout(4*time.Minute),
		// a slow sweep must not overlap the next tick
		asynq.Unique(4*time.Minute),
	)

	if err != nil {
		logger.ErrorWithFields("Failed to register ReconcilePending job", err, map[string]interface{}{
			"cron": s.jobConfig.ReconcileCron,
		})
		return fmt.Errorf("register reconcile job: %w", err)
	}

	logger.Info("✓ Registered ReconcilePending", map[string]interface{}{
		"cron":  s.jobConfig.ReconcileCron,
		"batch": s.jobConfig.ReconcileBatchSize,
	})
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}

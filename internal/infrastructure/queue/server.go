package queue

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/shared"
)

// Queue weights. Settlement work on the terminal queue runs ahead of
// receipts so a slow SMS provider never delays a poll answer.
var queueWeights = map[string]int{
	shared.QueueTerminal:   6,
	shared.QueueAutomation: 3,
	shared.QueueDefault:    1,
}

// NewServer builds the asynq worker server used by cmd/worker and by the
// embedded worker in cmd/api.
func NewServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(opt, asynq.Config{
		Queues:      queueWeights,
		Concurrency: concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)

			event := log.Error()
			if errors.Is(err, asynq.SkipRetry) {
				event = log.Warn()
			}
			event.Err(err).
				Str("type", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("[ASYNQ] Task failed")
		}),
	})
}

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"terminal-payment-backend/internal/shared/utils"
)

// Enqueuer is the part of *asynq.Client the services depend on
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func RedisOpt(host, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: host, Password: password, DB: db}
}

func NewClient(opt asynq.RedisClientOpt) *asynq.Client {
	return asynq.NewClient(opt)
}

// Dispatch marshals payload into a task and enqueues it. A task id that is
// already queued counts as success, so callers can dedupe with asynq.TaskID.
func Dispatch(ctx context.Context, q Enqueuer, taskType string, payload interface{}, opts ...asynq.Option) error {
	task, err := utils.MarshalTask(taskType, payload)
	if err != nil {
		return err
	}

	if _, err := q.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	return nil
}

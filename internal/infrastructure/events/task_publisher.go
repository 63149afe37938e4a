package events

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/internal/shared"
)

// TaskPublisher hands the event to the asynq automation queue. The task id
// is derived from the payment so a second publish is dropped by asynq.
type TaskPublisher struct {
	client queue.Enqueuer
}

func NewTaskPublisher(client queue.Enqueuer) *TaskPublisher {
	return &TaskPublisher{client: client}
}

func (p *TaskPublisher) PublishPaymentCompleted(ctx context.Context, event shared.PaymentCompletedEvent) error {
	return queue.Dispatch(ctx, p.client, shared.TypePaymentAutomation, event,
		asynq.Queue(shared.QueueAutomation),
		asynq.TaskID("automation:"+event.PaymentID),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
}

func (p *TaskPublisher) Close() error { return nil }

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/internal/shared"
)

// settle and fail tasks are keyed by payment so repeated polls and
// redelivered webhooks collapse into one queued task
const dispatchRetention = 10 * time.Minute

func dispatchSettlement(ctx context.Context, q queue.Enqueuer, paymentID uuid.UUID, transactionID, source string) error {
	return queue.Dispatch(ctx, q, shared.TypeSettlePayment,
		shared.SettlePaymentPayload{
			PaymentID:     paymentID.String(),
			TransactionID: transactionID,
			Source:        source,
		},
		asynq.Queue(shared.QueueTerminal),
		asynq.TaskID("settle:"+paymentID.String()),
		asynq.MaxRetry(10),
		asynq.Retention(dispatchRetention),
	)
}

func dispatchFailure(ctx context.Context, q queue.Enqueuer, paymentID uuid.UUID, transactionID, reason string) error {
	return queue.Dispatch(ctx, q, shared.TypeFailPayment,
		shared.FailPaymentPayload{
			PaymentID:     paymentID.String(),
			TransactionID: transactionID,
			Reason:        reason,
		},
		asynq.Queue(shared.QueueTerminal),
		asynq.TaskID("fail:"+paymentID.String()),
		asynq.MaxRetry(10),
		asynq.Retention(dispatchRetention),
	)
}

func dispatchEnrichment(ctx context.Context, q queue.Enqueuer, payload shared.EnrichWebhookPayload) error {
	return queue.Dispatch(ctx, q, shared.TypeEnrichWebhook, payload,
		asynq.Queue(shared.QueueTerminal),
		asynq.MaxRetry(5),
	)
}

// failureReason maps a terminal non-completed status to the fail task reason
func failureReason(status string) string {
	if status == model.StatusCancelled {
		return model.FailureCancelled
	}
	return model.FailureDeclined
}

package job

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
)

type FailPaymentHandler struct {
	settlement service.SettlementService
}

func NewFailPaymentHandler(settlement service.SettlementService) *FailPaymentHandler {
	return &FailPaymentHandler{settlement: settlement}
}

func (h *FailPaymentHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.FailPaymentPayload
	if err := utils.UnmarshalTask(task, &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	paymentID, err := uuid.Parse(payload.PaymentID)
	if err != nil {
		return fmt.Errorf("invalid payment id %q: %w", payload.PaymentID, asynq.SkipRetry)
	}

	result, err := h.settlement.Fail(ctx, model.FailRequest{
		PaymentID:     paymentID,
		TransactionID: payload.TransactionID,
		Reason:        payload.Reason,
	})
	if err != nil {
		if isPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("fail payment: %w", err)
	}

	log.Info().
		Str("payment_id", payload.PaymentID).
		Str("reason", payload.Reason).
		Str("status", result.Status).
		Msg("[JOB] Fail task processed")
	return nil
}

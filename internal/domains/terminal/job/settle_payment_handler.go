package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
)

// SettlePaymentHandler runs Complete for payments the resolver or the
// webhook path found completed
type SettlePaymentHandler struct {
	settlement service.SettlementService
}

func NewSettlePaymentHandler(settlement service.SettlementService) *SettlePaymentHandler {
	return &SettlePaymentHandler{settlement: settlement}
}

func (h *SettlePaymentHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.SettlePaymentPayload
	if err := utils.UnmarshalTask(task, &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	paymentID, err := uuid.Parse(payload.PaymentID)
	if err != nil {
		return fmt.Errorf("invalid payment id %q: %w", payload.PaymentID, asynq.SkipRetry)
	}

	result, err := h.settlement.Complete(ctx, model.CompleteRequest{
		TransactionID: payload.TransactionID,
		PaymentID:     &paymentID,
	})
	if err != nil {
		if isPermanent(err) {
			log.Warn().Err(err).Str("payment_id", payload.PaymentID).Msg("[JOB] Settlement rejected, not retrying")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("settle payment: %w", err)
	}

	log.Info().
		Str("payment_id", payload.PaymentID).
		Str("source", payload.Source).
		Bool("already_completed", result.AlreadyCompleted).
		Msg("[JOB] Payment settled")
	return nil
}

// isPermanent reports errors a retry cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, model.ErrInvalidTransition) ||
		errors.Is(err, model.ErrPaymentNotFound) ||
		errors.Is(err, model.ErrTransactionAlreadyBound)
}

package job

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
)

// EnrichWebhookHandler attributes a classified delivery off the request path
type EnrichWebhookHandler struct {
	webhooks service.WebhookService
}

func NewEnrichWebhookHandler(webhooks service.WebhookService) *EnrichWebhookHandler {
	return &EnrichWebhookHandler{webhooks: webhooks}
}

func (h *EnrichWebhookHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.EnrichWebhookPayload
	if err := utils.UnmarshalTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("[JOB] Invalid enrich payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := h.webhooks.Enrich(ctx, payload); err != nil {
		log.Error().
			Err(err).
			Str("transaction_id", payload.TransactionID).
			Str("invoice", payload.InvoiceNumber).
			Msg("[JOB] Webhook enrichment failed")
		return fmt.Errorf("enrich webhook: %w", err)
	}

	return nil
}

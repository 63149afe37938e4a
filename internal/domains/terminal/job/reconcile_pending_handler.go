package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared"
)

// ReconcilePendingHandler is the scheduled sweep for lost webhooks and
// evicted sessions
type ReconcilePendingHandler struct {
	resolver     service.ResolverService
	defaultLimit int
}

func NewReconcilePendingHandler(resolver service.ResolverService, defaultLimit int) *ReconcilePendingHandler {
	return &ReconcilePendingHandler{resolver: resolver, defaultLimit: defaultLimit}
}

func (h *ReconcilePendingHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.ReconcilePendingPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal reconcile payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = h.defaultLimit
	}

	summary, err := h.resolver.ReconcilePending(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("[JOB] Reconcile sweep failed")
		return fmt.Errorf("reconcile pending: %w", err)
	}

	log.Info().
		Int("checked", summary.Checked).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("abandoned", summary.Abandoned).
		Int("errors", summary.Errors).
		Msg("[JOB] Reconcile sweep finished")
	return nil
}

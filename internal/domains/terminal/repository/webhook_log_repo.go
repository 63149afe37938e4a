package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"terminal-payment-backend/internal/domains/terminal/model"
)

// =====================================================
// WEBHOOK LOG REPOSITORY IMPLEMENTATION
// =====================================================
type webhookLogRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookLogRepository(pool *pgxpool.Pool) WebhookLogRepository {
	return &webhookLogRepository{pool: pool}
}

func (r *webhookLogRepository) Create(ctx context.Context, log *model.WebhookLog) error {
	query := `
		INSERT INTO terminal_webhook_logs (
			id, raw_body, headers, source_ip, transaction_id, invoice_number,
			classification, signature_valid, processed, processing_error, received_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	headersJSON, err := json.Marshal(log.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		log.ID,
		log.RawBody,
		headersJSON,
		log.SourceIP,
		log.TransactionID,
		log.InvoiceNumber,
		log.Classification,
		log.SignatureValid,
		log.Processed,
		log.ProcessingError,
		log.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook log: %w", err)
	}

	return nil
}

func (r *webhookLogRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE terminal_webhook_logs
		SET processed = true,
			processed_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("webhook log not found: %s", id)
	}

	return nil
}

func (r *webhookLogRepository) MarkProcessingError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE terminal_webhook_logs
		SET processing_error = $2,
			processed_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, errorMsg)
	if err != nil {
		return fmt.Errorf("failed to mark webhook processing error: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("webhook log not found: %s", id)
	}

	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"terminal-payment-backend/internal/domains/terminal/model"
)

const paymentColumns = `
	id, invoice_number, location_id, order_id, amount, tip_amount, description,
	status, external_transaction_id, card_last4, failure_reason, processed_at,
	created_at, updated_at
`

// uniqueViolation is the postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// =====================================================
// TERMINAL PAYMENT REPOSITORY IMPLEMENTATION
// =====================================================
type paymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepository{pool: pool}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.TerminalPayment) error {
	query := `
		INSERT INTO terminal_payments (
			id, invoice_number, location_id, order_id, amount, tip_amount,
			description, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		payment.ID,
		payment.InvoiceNumber,
		payment.LocationID,
		payment.OrderID,
		payment.Amount,
		payment.TipAmount,
		payment.Description,
		payment.Status,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create terminal payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TerminalPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM terminal_payments WHERE id = $1`
	return r.getOne(ctx, r.pool.QueryRow(ctx, query, id), id.String())
}

func (r *paymentRepository) GetByInvoice(ctx context.Context, invoiceNumber string) (*model.TerminalPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM terminal_payments WHERE invoice_number = $1`
	return r.getOne(ctx, r.pool.QueryRow(ctx, query, invoiceNumber), invoiceNumber)
}

func (r *paymentRepository) GetByExternalTransactionID(ctx context.Context, transactionID string) (*model.TerminalPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM terminal_payments WHERE external_transaction_id = $1`
	return r.getOne(ctx, r.pool.QueryRow(ctx, query, transactionID), transactionID)
}

// SetExternalTransactionID binds a transaction id to a pending row. Binding
// the same id twice is a no-op; an id owned by another row is rejected.
func (r *paymentRepository) SetExternalTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error {
	query := `
		UPDATE terminal_payments
		SET external_transaction_id = $2,
			updated_at = NOW()
		WHERE id = $1
		AND (external_transaction_id IS NULL OR external_transaction_id = $2)
	`

	result, err := r.pool.Exec(ctx, query, id, transactionID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.NewTransactionAlreadyBoundError(transactionID)
		}
		return fmt.Errorf("failed to bind transaction id: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return model.NewTransactionAlreadyBoundError(transactionID)
	}

	return nil
}

// =====================================================
// TRANSACTION-AWARE METHODS
// =====================================================

func (r *paymentRepository) GetByIDForUpdateWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.TerminalPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM terminal_payments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, tx.QueryRow(ctx, query, id), id.String())
}

func (r *paymentRepository) MarkCompletedWithTx(
	ctx context.Context,
	tx pgx.Tx,
	id uuid.UUID,
	transactionID string,
	last4 *string,
) (bool, error) {
	query := `
		UPDATE terminal_payments
		SET status = 'completed',
			external_transaction_id = COALESCE(external_transaction_id, NULLIF($2, '')),
			card_last4 = COALESCE($3, card_last4),
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		AND status = 'pending'
	`

	result, err := tx.Exec(ctx, query, id, transactionID, last4)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, model.NewTransactionAlreadyBoundError(transactionID)
		}
		return false, fmt.Errorf("failed to mark payment completed: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// =====================================================
// CONDITIONAL TRANSITIONS
// =====================================================

func (r *paymentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, transactionID *string) (bool, error) {
	query := `
		UPDATE terminal_payments
		SET status = 'failed',
			failure_reason = $2,
			external_transaction_id = COALESCE(external_transaction_id, $3),
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id, reason, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *paymentRepository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE terminal_payments
		SET status = 'cancelled',
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment cancelled: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *paymentRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.TerminalPayment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM terminal_payments
		WHERE status = 'pending'
		AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.TerminalPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return payments, nil
}

// =====================================================
// HELPERS
// =====================================================

func (r *paymentRepository) getOne(_ context.Context, row pgx.Row, ref string) (*model.TerminalPayment, error) {
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewPaymentNotFoundError(ref)
		}
		return nil, fmt.Errorf("failed to get terminal payment: %w", err)
	}
	return payment, nil
}

func scanPayment(row pgx.Row) (*model.TerminalPayment, error) {
	p := &model.TerminalPayment{}
	err := row.Scan(
		&p.ID,
		&p.InvoiceNumber,
		&p.LocationID,
		&p.OrderID,
		&p.Amount,
		&p.TipAmount,
		&p.Description,
		&p.Status,
		&p.ExternalTransactionID,
		&p.CardLast4,
		&p.FailureReason,
		&p.ProcessedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

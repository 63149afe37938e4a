package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"terminal-payment-backend/internal/domains/terminal/model"
)

type commissionRepository struct {
	pool *pgxpool.Pool
}

func NewCommissionRepository(pool *pgxpool.Pool) CommissionRepository {
	return &commissionRepository{pool: pool}
}

// CreateOnce relies on the unique payment_id; a second insert is a no-op
func (r *commissionRepository) CreateOnce(ctx context.Context, c *model.Commission) (bool, error) {
	query := `
		INSERT INTO commissions (
			id, payment_id, staff_id, rate_type, base_amount, tip_amount,
			commission_amount, total_earnings
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING created_at
	`

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		c.ID,
		c.PaymentID,
		c.StaffID,
		c.RateType,
		c.BaseAmount,
		c.TipAmount,
		c.CommissionAmount,
		c.TotalEarnings,
	).Scan(&c.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create commission: %w", err)
	}

	return true, nil
}

func (r *commissionRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*model.Commission, error) {
	query := `
		SELECT id, payment_id, staff_id, rate_type, base_amount, tip_amount,
			commission_amount, total_earnings, created_at
		FROM commissions
		WHERE payment_id = $1
	`

	c := &model.Commission{}
	err := r.pool.QueryRow(ctx, query, paymentID).Scan(
		&c.ID,
		&c.PaymentID,
		&c.StaffID,
		&c.RateType,
		&c.BaseAmount,
		&c.TipAmount,
		&c.CommissionAmount,
		&c.TotalEarnings,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewPaymentNotFoundError(paymentID.String())
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}

	return c, nil
}

func (r *commissionRepository) ListForReport(ctx context.Context, from, to time.Time) ([]*model.CommissionReportRow, error) {
	query := `
		SELECT c.id, c.payment_id, c.staff_id, c.rate_type, c.base_amount, c.tip_amount,
			c.commission_amount, c.total_earnings, c.created_at,
			p.invoice_number, COALESCE(p.external_transaction_id, '')
		FROM commissions c
		JOIN terminal_payments p ON p.id = c.payment_id
		WHERE c.created_at >= $1 AND c.created_at < $2
		ORDER BY c.created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer rows.Close()

	var result []*model.CommissionReportRow
	for rows.Next() {
		row := &model.CommissionReportRow{}
		if err := rows.Scan(
			&row.ID,
			&row.PaymentID,
			&row.StaffID,
			&row.RateType,
			&row.BaseAmount,
			&row.TipAmount,
			&row.CommissionAmount,
			&row.TotalEarnings,
			&row.CreatedAt,
			&row.InvoiceNumber,
			&row.TransactionID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commissions: %w", err)
	}

	return result, nil
}

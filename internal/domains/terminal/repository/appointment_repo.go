package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"terminal-payment-backend/internal/domains/terminal/model"
)

type appointmentRepository struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepository(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepository{pool: pool}
}

func (r *appointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `
		SELECT id, staff_id, service_name, duration_minutes, client_phone,
			payment_status, payment_id, paid_at
		FROM appointments
		WHERE id = $1
	`

	a := &model.Appointment{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.StaffID,
		&a.ServiceName,
		&a.DurationMinutes,
		&a.ClientPhone,
		&a.PaymentStatus,
		&a.PaymentID,
		&a.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}

	return a, nil
}

func (r *appointmentRepository) MarkPaid(ctx context.Context, id uuid.UUID, paymentID uuid.UUID) (bool, error) {
	query := `
		UPDATE appointments
		SET payment_status = 'paid',
			payment_id = $2,
			paid_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		AND payment_status <> 'paid'
	`

	result, err := r.pool.Exec(ctx, query, id, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark appointment paid: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// =====================================================
// STAFF RATES
// =====================================================

type staffRateRepository struct {
	pool *pgxpool.Pool
}

func NewStaffRateRepository(pool *pgxpool.Pool) StaffRateRepository {
	return &staffRateRepository{pool: pool}
}

func (r *staffRateRepository) GetByStaffID(ctx context.Context, staffID uuid.UUID) (*model.StaffRate, error) {
	query := `
		SELECT staff_id, rate_type, flat_amount, percentage, hourly_rate
		FROM staff_rates
		WHERE staff_id = $1
	`

	rate := &model.StaffRate{}
	err := r.pool.QueryRow(ctx, query, staffID).Scan(
		&rate.StaffID,
		&rate.RateType,
		&rate.FlatAmount,
		&rate.Percentage,
		&rate.HourlyRate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrStaffRateNotFound
		}
		return nil, fmt.Errorf("failed to get staff rate: %w", err)
	}

	return rate, nil
}

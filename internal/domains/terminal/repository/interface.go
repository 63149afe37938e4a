package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"terminal-payment-backend/internal/domains/terminal/model"
)

// =====================================================
// TERMINAL PAYMENT REPOSITORY INTERFACE
// =====================================================
type PaymentRepository interface {
	// Create inserts the pending row before the gateway is contacted
	Create(ctx context.Context, payment *model.TerminalPayment) error

	GetByID(ctx context.Context, id uuid.UUID) (*model.TerminalPayment, error)
	GetByInvoice(ctx context.Context, invoiceNumber string) (*model.TerminalPayment, error)
	GetByExternalTransactionID(ctx context.Context, transactionID string) (*model.TerminalPayment, error)

	// SetExternalTransactionID binds the gateway transaction to a pending row
	SetExternalTransactionID(ctx context.Context, id uuid.UUID, transactionID string) error

	// ============================================
	// TRANSACTION-AWARE METHODS
	// ============================================

	// GetByIDForUpdateWithTx locks the row until the transaction ends
	GetByIDForUpdateWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.TerminalPayment, error)

	// MarkCompletedWithTx flips pending -> completed. Returns false when the
	// row was no longer pending.
	MarkCompletedWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, transactionID string, last4 *string) (bool, error)

	// ============================================
	// CONDITIONAL TRANSITIONS
	// ============================================

	// MarkFailed flips pending -> failed; false when no longer pending
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, transactionID *string) (bool, error)

	// MarkCancelled flips pending -> cancelled; false when no longer pending
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)

	// ListStalePending returns pending rows created before olderThan, oldest first
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.TerminalPayment, error)
}

// =====================================================
// APPOINTMENT / STAFF RATE / COMMISSION
// =====================================================
type AppointmentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error)

	// MarkPaid sets payment_status=paid once; false when already paid
	MarkPaid(ctx context.Context, id uuid.UUID, paymentID uuid.UUID) (bool, error)
}

type StaffRateRepository interface {
	GetByStaffID(ctx context.Context, staffID uuid.UUID) (*model.StaffRate, error)
}

type CommissionRepository interface {
	// CreateOnce inserts the commission unless the payment already has one
	CreateOnce(ctx context.Context, commission *model.Commission) (bool, error)

	GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*model.Commission, error)

	// ListForReport returns commissions created in [from, to), oldest first
	ListForReport(ctx context.Context, from, to time.Time) ([]*model.CommissionReportRow, error)
}

// =====================================================
// WEBHOOK LOG REPOSITORY INTERFACE
// =====================================================
type WebhookLogRepository interface {
	// Create is called as soon as a delivery is received
	Create(ctx context.Context, log *model.WebhookLog) error

	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkProcessingError(ctx context.Context, id uuid.UUID, errorMsg string) error
}

// =====================================================
// TRANSACTION MANAGER
// =====================================================
type TransactionManager interface {
	// RunInTx commits when fn returns nil and rolls back otherwise
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

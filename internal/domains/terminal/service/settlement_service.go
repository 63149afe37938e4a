package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
	repo "terminal-payment-backend/internal/domains/terminal/repository"
	"terminal-payment-backend/internal/domains/terminal/store"
	"terminal-payment-backend/internal/infrastructure/events"
	"terminal-payment-backend/internal/infrastructure/metrics"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
)

// Side effect steps, also the metric label
const (
	stepAppointment = "appointment"
	stepCommission  = "commission"
	stepEvent       = "event"
	stepSession     = "session"
)

// =====================================================
// SETTLEMENT SERVICE IMPLEMENTATION
// =====================================================
type settlementService struct {
	payments     repo.PaymentRepository
	appointments repo.AppointmentRepository
	staffRates   repo.StaffRateRepository
	commissions  repo.CommissionRepository
	txManager    repo.TransactionManager
	sessions     store.SessionStore
	resolver     ResolverService
	publisher    events.Publisher
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewSettlementService(
	payments repo.PaymentRepository,
	appointments repo.AppointmentRepository,
	staffRates repo.StaffRateRepository,
	commissions repo.CommissionRepository,
	txManager repo.TransactionManager,
	sessions store.SessionStore,
	resolver ResolverService,
	publisher events.Publisher,
	m *metrics.Metrics,
) SettlementService {
	return &settlementService{
		payments:     payments,
		appointments: appointments,
		staffRates:   staffRates,
		commissions:  commissions,
		txManager:    txManager,
		sessions:     sessions,
		resolver:     resolver,
		publisher:    publisher,
		metrics:      m,
		now:          time.Now,
	}
}

// =====================================================
// COMPLETE
// =====================================================

// Complete settles a payment exactly once
//
// Flow:
// 1. Locate the payment (payment id, else external transaction id)
// 2. completed -> AlreadyCompleted; failed/cancelled -> TRM005
// 3. Lock the row and flip pending -> completed in one transaction
// 4. Best-effort side effects; failures are logged, never reverted:
//   - mark the appointment paid
//   - record the staff commission once
//   - publish payment.completed
//   - update the live session
func (s *settlementService) Complete(ctx context.Context, req model.CompleteRequest) (*model.SettlementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError(err)
	}

	// Step 1: Locate
	var (
		payment *model.TerminalPayment
		err     error
	)
	if req.PaymentID != nil {
		payment, err = s.payments.GetByID(ctx, *req.PaymentID)
	} else {
		payment, err = s.payments.GetByExternalTransactionID(ctx, req.TransactionID)
	}
	if err != nil {
		return nil, err
	}

	// Step 2: Status gate
	if result, err := s.checkCompletable(payment, req.TransactionID); result != nil || err != nil {
		return result, err
	}

	// Step 3: Conditional flip under row lock
	last4 := s.sessionLast4(ctx, payment.InvoiceNumber)
	var (
		flipped       bool
		current       *model.TerminalPayment
		transactionID string
	)
	err = s.txManager.RunInTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.payments.GetByIDForUpdateWithTx(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		current = locked
		if locked.Status != model.StatusPending {
			return nil
		}
		if boundElsewhere(locked, req.TransactionID) {
			return model.NewTransactionAlreadyBoundError(req.TransactionID)
		}

		transactionID = utils.Deref(locked.ExternalTransactionID)
		if transactionID == "" {
			transactionID = req.TransactionID
		}
		flipped, err = s.payments.MarkCompletedWithTx(ctx, tx, payment.ID, transactionID, utils.StringPtr(last4))
		return err
	})
	if err != nil {
		return nil, err
	}

	if !flipped {
		// lost the race to another completer, or the row moved meanwhile
		if result, err := s.checkCompletable(current, req.TransactionID); result != nil || err != nil {
			return result, err
		}
		return nil, model.NewInvalidTransitionError(current.Status, model.StatusCompleted)
	}

	payment.Status = model.StatusCompleted
	payment.ExternalTransactionID = utils.StringPtr(transactionID)
	payment.CardLast4 = utils.StringPtr(last4)
	completedAt := s.now()
	payment.ProcessedAt = &completedAt

	result := &model.SettlementResult{
		PaymentID:     payment.ID,
		InvoiceNumber: payment.InvoiceNumber,
		TransactionID: transactionID,
		Status:        model.StatusCompleted,
	}

	// Step 4: Side effects
	orderID := req.OrderID
	if orderID == nil {
		orderID = payment.OrderID
	}
	s.runSideEffects(ctx, payment, orderID, last4, result)

	s.metrics.Settlement("completed")
	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("invoice", payment.InvoiceNumber).
		Str("transaction_id", transactionID).
		Bool("appointment_updated", result.AppointmentUpdated).
		Bool("commission_recorded", result.CommissionRecorded).
		Bool("event_published", result.EventPublished).
		Msg("[SETTLEMENT] Payment completed")

	return result, nil
}

// checkCompletable returns a result for already completed rows and an
// error for rows that can no longer complete; nil, nil means go ahead.
// A transaction id other than the one bound to the row is rejected.
func (s *settlementService) checkCompletable(p *model.TerminalPayment, transactionID string) (*model.SettlementResult, error) {
	if p.Status != model.StatusPending && p.Status != model.StatusCompleted {
		s.metrics.Settlement("invalid_transition")
		return nil, model.NewInvalidTransitionError(p.Status, model.StatusCompleted)
	}
	if boundElsewhere(p, transactionID) {
		s.metrics.Settlement("transaction_mismatch")
		log.Warn().
			Str("payment_id", p.ID.String()).
			Str("bound_transaction_id", utils.Deref(p.ExternalTransactionID)).
			Str("transaction_id", transactionID).
			Msg("[SETTLEMENT] Transaction id does not match the payment")
		return nil, model.NewTransactionAlreadyBoundError(transactionID)
	}

	switch p.Status {
	case model.StatusPending:
		return nil, nil
	case model.StatusCompleted:
		s.metrics.Settlement("already_completed")
		tx := utils.Deref(p.ExternalTransactionID)
		if tx == "" {
			tx = transactionID
		}
		return &model.SettlementResult{
			PaymentID:        p.ID,
			InvoiceNumber:    p.InvoiceNumber,
			TransactionID:    tx,
			Status:           model.StatusCompleted,
			AlreadyCompleted: true,
		}, nil
	}
	return nil, nil
}

func boundElsewhere(p *model.TerminalPayment, transactionID string) bool {
	bound := utils.Deref(p.ExternalTransactionID)
	return bound != "" && transactionID != "" && bound != transactionID
}

func (s *settlementService) runSideEffects(
	ctx context.Context,
	payment *model.TerminalPayment,
	orderID *uuid.UUID,
	last4 string,
	result *model.SettlementResult,
) {
	var appointment *model.Appointment

	// appointment
	if orderID != nil {
		appt, err := s.appointments.GetByID(ctx, *orderID)
		if err != nil {
			s.sideEffectFailed(stepAppointment, payment, err)
		} else {
			appointment = appt
			updated, err := s.appointments.MarkPaid(ctx, appt.ID, payment.ID)
			if err != nil {
				s.sideEffectFailed(stepAppointment, payment, err)
			}
			result.AppointmentUpdated = updated
		}
	}

	// commission
	if appointment != nil && appointment.StaffID != nil {
		recorded, err := s.recordCommission(ctx, payment, appointment)
		if err != nil {
			s.sideEffectFailed(stepCommission, payment, err)
		}
		result.CommissionRecorded = recorded
	}

	// event
	if s.publisher != nil {
		event := shared.PaymentCompletedEvent{
			PaymentID:     payment.ID.String(),
			InvoiceNumber: payment.InvoiceNumber,
			TransactionID: result.TransactionID,
			LocationID:    payment.LocationID,
			Amount:        payment.Amount.StringFixed(2),
			TipAmount:     payment.TipAmount.StringFixed(2),
			CardLast4:     last4,
			CompletedAt:   *payment.ProcessedAt,
		}
		if orderID != nil {
			event.OrderID = orderID.String()
		}
		if appointment != nil {
			if appointment.StaffID != nil {
				event.StaffID = appointment.StaffID.String()
			}
			event.ClientPhone = utils.Deref(appointment.ClientPhone)
		}

		if err := s.publisher.PublishPaymentCompleted(ctx, event); err != nil {
			s.sideEffectFailed(stepEvent, payment, err)
		} else {
			result.EventPublished = true
		}
	}

	// session
	_, err := s.sessions.Update(ctx, payment.InvoiceNumber, func(p *model.PaymentSession) error {
		p.Status = model.StatusCompleted
		if p.ExternalTransactionID == "" {
			p.ExternalTransactionID = result.TransactionID
		}
		return nil
	})
	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		s.sideEffectFailed(stepSession, payment, err)
	}
}

func (s *settlementService) recordCommission(ctx context.Context, payment *model.TerminalPayment, appt *model.Appointment) (bool, error) {
	rate, err := s.staffRates.GetByStaffID(ctx, *appt.StaffID)
	if err != nil {
		if errors.Is(err, model.ErrStaffRateNotFound) {
			log.Debug().Str("staff_id", appt.StaffID.String()).Msg("[SETTLEMENT] No staff rate, commission skipped")
			return false, nil
		}
		return false, err
	}

	commission, err := CalculateCommission(CommissionInput{
		Amount:          payment.Amount,
		TipAmount:       payment.TipAmount,
		DurationMinutes: appt.DurationMinutes,
		Rate:            *rate,
	})
	if err != nil {
		return false, err
	}
	commission.PaymentID = payment.ID

	return s.commissions.CreateOnce(ctx, commission)
}

func (s *settlementService) sideEffectFailed(step string, payment *model.TerminalPayment, err error) {
	s.metrics.SideEffectFailed(step)
	log.Error().Err(err).
		Str("step", step).
		Str("payment_id", payment.ID.String()).
		Str("invoice", payment.InvoiceNumber).
		Msg("[SETTLEMENT] Side effect failed, payment stays completed")
}

func (s *settlementService) sessionLast4(ctx context.Context, invoice string) string {
	session, err := s.sessions.Get(ctx, invoice)
	if err != nil {
		return ""
	}
	return session.Last4
}

// =====================================================
// COMPLETE BY INVOICE
// =====================================================

// CompleteByInvoice needs a transaction id: the one sent, the one already
// bound to the row, or the one the resolver finds. Without one the
// gateway has not confirmed the payment and nothing is settled.
func (s *settlementService) CompleteByInvoice(ctx context.Context, req model.CompleteByInvoiceRequest) (*model.SettlementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError(err)
	}

	payment, err := s.payments.GetByInvoice(ctx, req.InvoiceNumber)
	if err != nil {
		return nil, err
	}

	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = utils.Deref(payment.ExternalTransactionID)
	}
	if transactionID == "" && payment.Status == model.StatusPending {
		resolved, err := s.resolver.Resolve(ctx, req.InvoiceNumber)
		if err != nil {
			return nil, err
		}
		if resolved.Status != model.StatusCompleted || resolved.TransactionID == "" {
			return nil, model.NewTerminalError(
				model.ErrCodeInvalidTransition,
				"Payment has not been confirmed by the gateway, current status: "+resolved.Status,
				model.ErrInvalidTransition,
			)
		}
		transactionID = resolved.TransactionID
	}

	id := payment.ID
	return s.Complete(ctx, model.CompleteRequest{
		TransactionID: transactionID,
		PaymentID:     &id,
		OrderID:       payment.OrderID,
	})
}

// =====================================================
// FAIL
// =====================================================

func (s *settlementService) Fail(ctx context.Context, req model.FailRequest) (*model.SettlementResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = model.FailureDeclined
	}

	finalStatus := model.StatusFailed
	var (
		flipped bool
		err     error
	)
	if reason == model.FailureCancelled {
		finalStatus = model.StatusCancelled
		flipped, err = s.payments.MarkCancelled(ctx, req.PaymentID)
	} else {
		flipped, err = s.payments.MarkFailed(ctx, req.PaymentID, reason, utils.StringPtr(req.TransactionID))
	}
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	result := &model.SettlementResult{
		PaymentID:     payment.ID,
		InvoiceNumber: payment.InvoiceNumber,
		TransactionID: utils.Deref(payment.ExternalTransactionID),
		Status:        payment.Status,
	}

	if !flipped {
		s.metrics.Settlement("fail_noop")
		log.Info().
			Str("payment_id", payment.ID.String()).
			Str("status", payment.Status).
			Msg("[SETTLEMENT] Fail ignored, payment no longer pending")
		return result, nil
	}

	if finalStatus == model.StatusCancelled && payment.ExternalTransactionID == nil && req.TransactionID != "" {
		if err := s.payments.SetExternalTransactionID(ctx, payment.ID, req.TransactionID); err != nil {
			log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("[SETTLEMENT] Could not bind transaction to cancelled payment")
		} else {
			result.TransactionID = req.TransactionID
		}
	}

	_, err = s.sessions.Update(ctx, payment.InvoiceNumber, func(p *model.PaymentSession) error {
		if !p.IsTerminal() {
			p.Status = finalStatus
		}
		return nil
	})
	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		s.sideEffectFailed(stepSession, payment, err)
	}

	s.metrics.Settlement(finalStatus)
	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("invoice", payment.InvoiceNumber).
		Str("reason", reason).
		Msg("[SETTLEMENT] Payment failed")

	return result, nil
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/internal/domains/terminal/gateway"
	"terminal-payment-backend/internal/domains/terminal/model"
	repo "terminal-payment-backend/internal/domains/terminal/repository"
	"terminal-payment-backend/internal/domains/terminal/store"
)

// =====================================================
// SESSION SERVICE IMPLEMENTATION
// =====================================================
type sessionService struct {
	sessions store.SessionStore
	payments repo.PaymentRepository
	gateway  gateway.TerminalGateway
	cfg      config.TerminalConfig
	now      func() time.Time
}

func NewSessionService(
	sessions store.SessionStore,
	payments repo.PaymentRepository,
	gw gateway.TerminalGateway,
	cfg config.TerminalConfig,
) SessionService {
	return &sessionService{
		sessions: sessions,
		payments: payments,
		gateway:  gw,
		cfg:      cfg,
		now:      time.Now,
	}
}

// =====================================================
// START
// =====================================================

// Start drives a new card-present transaction
//
// Flow:
// 1. Validate request
// 2. Generate invoice number and insert the pending payment row
// 3. Push the purchase to the terminal (bounded by GatewayStartTimeout)
// 4. Gateway failure -> mark row failed, return TRM001, store nothing
// 5. Store the session; bind the transaction id if the gateway returned one
func (s *sessionService) Start(ctx context.Context, req model.StartPaymentRequest) (*model.StartPaymentResponse, error) {
	// Step 1: Validate request
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError(err)
	}

	// Step 2: Persist the pending payment before contacting the gateway
	now := s.now()
	payment := &model.TerminalPayment{
		ID:            uuid.New(),
		InvoiceNumber: model.NewInvoiceNumber(now),
		LocationID:    req.LocationID,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		TipAmount:     req.Tip(),
		Description:   req.Description,
		Status:        model.StatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	// Step 3: Push to the terminal
	startCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayStartTimeout)
	resp, err := s.gateway.StartTransaction(startCtx, gateway.StartTransactionRequest{
		LocationID:    req.LocationID,
		InvoiceNumber: payment.InvoiceNumber,
		Amount:        payment.Amount,
		TipAmount:     payment.TipAmount,
		Description:   payment.Description,
	})
	cancel()

	// Step 4: Gateway failure leaves no session behind
	if err != nil {
		if _, markErr := s.payments.MarkFailed(ctx, payment.ID, model.FailureGatewayUnavailable, nil); markErr != nil {
			log.Error().Err(markErr).Str("payment_id", payment.ID.String()).Msg("[TERMINAL] Failed to mark payment failed after gateway error")
		}
		log.Warn().Err(err).
			Str("invoice", payment.InvoiceNumber).
			Str("location_id", req.LocationID).
			Msg("[TERMINAL] Gateway rejected start")
		return nil, asGatewayUnavailable("start", err)
	}

	// Step 5: Store the live session
	session := &model.PaymentSession{
		PaymentID:     payment.ID,
		InvoiceNumber: payment.InvoiceNumber,
		LocationID:    payment.LocationID,
		OrderID:       payment.OrderID,
		Amount:        payment.Amount,
		TipAmount:     payment.TipAmount,
		Description:   payment.Description,
		Status:        model.StatusPending,
		StartedAt:     now,
		UpdatedAt:     now,
	}

	if resp.TransactionID != "" {
		session.ExternalTransactionID = resp.TransactionID
		if err := s.payments.SetExternalTransactionID(ctx, payment.ID, resp.TransactionID); err != nil {
			log.Error().Err(err).Str("transaction_id", resp.TransactionID).Msg("[TERMINAL] Failed to persist transaction id")
		}
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		if !errors.Is(err, model.ErrTransactionAlreadyBound) {
			return nil, err
		}
		// keep the session reachable by invoice; the tx id stays with its owner
		log.Warn().Str("transaction_id", session.ExternalTransactionID).Msg("[TERMINAL] Transaction id already bound, storing session unbound")
		session.ExternalTransactionID = ""
		if err := s.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("invoice", payment.InvoiceNumber).
		Str("transaction_id", session.ExternalTransactionID).
		Str("amount", payment.Amount.String()).
		Msg("[TERMINAL] Payment started")

	return &model.StartPaymentResponse{
		TransactionID: session.ExternalTransactionID,
		InvoiceNumber: payment.InvoiceNumber,
		PaymentID:     payment.ID,
		Status:        model.StatusPending,
	}, nil
}

// =====================================================
// GET
// =====================================================

func (s *sessionService) Get(ctx context.Context, key string) (*model.PaymentSession, error) {
	return s.sessions.Get(ctx, key)
}

// =====================================================
// CANCEL
// =====================================================

// Cancel only touches pending sessions. The gateway decides; a session is
// marked cancelled only after the terminal acknowledged the abort.
func (s *sessionService) Cancel(ctx context.Context, key string, req model.CancelPaymentRequest) (*model.CancelPaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError(err)
	}

	session, err := s.sessions.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if session.Status != model.StatusPending {
		return nil, model.NewSessionNotCancellableError(session.Status)
	}

	target := session.ExternalTransactionID
	if target == "" {
		target = session.InvoiceNumber
	}

	cancelCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayStartTimeout)
	acknowledged, err := s.gateway.Cancel(cancelCtx, req.LocationID, target)
	cancel()
	if err != nil {
		return nil, asGatewayUnavailable("cancel", err)
	}
	if !acknowledged {
		return &model.CancelPaymentResponse{Success: false}, nil
	}

	_, err = s.sessions.Update(ctx, session.InvoiceNumber, func(p *model.PaymentSession) error {
		// a webhook may have settled it while the cancel was in flight
		if p.Status != model.StatusPending {
			return model.NewSessionNotCancellableError(p.Status)
		}
		p.Status = model.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.payments.MarkCancelled(ctx, session.PaymentID); err != nil {
		log.Error().Err(err).Str("payment_id", session.PaymentID.String()).Msg("[TERMINAL] Failed to mark payment cancelled")
	}

	log.Info().Str("invoice", session.InvoiceNumber).Msg("[TERMINAL] Payment cancelled")
	return &model.CancelPaymentResponse{Success: true}, nil
}

// asGatewayUnavailable keeps adapter errors already typed as TRM001
func asGatewayUnavailable(op string, err error) error {
	var te *model.TerminalError
	if errors.As(err, &te) && te.Code == model.ErrCodeGatewayUnavailable {
		return te
	}
	return model.NewGatewayUnavailableError(op, err)
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/internal/domains/terminal/gateway"
	"terminal-payment-backend/internal/domains/terminal/model"
	repo "terminal-payment-backend/internal/domains/terminal/repository"
	"terminal-payment-backend/internal/domains/terminal/store"
	"terminal-payment-backend/internal/infrastructure/metrics"
	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/internal/shared/utils"
)

// =====================================================
// RESOLVER SERVICE IMPLEMENTATION
// =====================================================
type resolverService struct {
	sessions store.SessionStore
	webhooks store.WebhookCache
	payments repo.PaymentRepository
	gateway  gateway.TerminalGateway
	queue    queue.Enqueuer
	metrics  *metrics.Metrics
	cfg      config.TerminalConfig
	jobCfg   config.JobConfig
	now      func() time.Time
}

func NewResolverService(
	sessions store.SessionStore,
	webhooks store.WebhookCache,
	payments repo.PaymentRepository,
	gw gateway.TerminalGateway,
	q queue.Enqueuer,
	m *metrics.Metrics,
	cfg config.TerminalConfig,
	jobCfg config.JobConfig,
) ResolverService {
	return &resolverService{
		sessions: sessions,
		webhooks: webhooks,
		payments: payments,
		gateway:  gw,
		queue:    q,
		metrics:  m,
		cfg:      cfg,
		jobCfg:   jobCfg,
		now:      time.Now,
	}
}

// target is what the tiers need to know about the polled payment
type target struct {
	session       *model.PaymentSession
	paymentID     uuid.UUID
	invoice       string
	locationID    string
	transactionID string
}

// answer is a terminal (or pending) status produced by one tier
type answer struct {
	status        string
	transactionID string
	last4         string
	amount        *decimal.Decimal
	tipAmount     *decimal.Decimal
	baseAmount    *decimal.Decimal
	source        string
}

// =====================================================
// RESOLVE
// =====================================================

// Resolve walks the tiers in order and stops at the first terminal answer
//
// Tier 0: live session already terminal, or persisted row when no session
// Tier 1: webhook cache by bound transaction id
// Tier 2: live gateway query (GatewayQueryTimeout, errors fall through)
// Tier 3: invoice keys with no bound transaction adopt the only completed
// webhook for that invoice inside the record TTL
// Tier 4: pending
func (s *resolverService) Resolve(ctx context.Context, key string) (*model.ResolveResult, error) {
	// Tier 0
	t, done, err := s.locate(ctx, key)
	if err != nil {
		return nil, err
	}
	if done != nil {
		s.metrics.ResolverAnswered(done.Source, done.Status)
		return done, nil
	}

	// Tier 1
	if t.transactionID != "" {
		rec, found, err := s.webhooks.Get(ctx, t.transactionID)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", t.transactionID).Msg("[RESOLVER] Webhook cache lookup failed")
		} else if found && rec.IsTerminal() {
			return s.adopt(ctx, t, answerFromRecord(rec, model.SourceWebhook)), nil
		}
	}

	// Tier 2
	if a := s.queryGateway(ctx, t); a != nil && model.IsTerminalStatus(a.status) {
		return s.adopt(ctx, t, a), nil
	}

	// Tier 3
	if t.transactionID == "" && model.IsInvoiceKey(key) {
		since := s.now().Add(-s.cfg.WebhookRecordTTL)
		matches, err := s.webhooks.FindCompletedByInvoice(ctx, t.invoice, since)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("invoice", t.invoice).Msg("[RESOLVER] Invoice fallback lookup failed")
		case len(matches) == 1:
			return s.adopt(ctx, t, answerFromRecord(matches[0], model.SourceFallback)), nil
		case len(matches) > 1:
			log.Warn().Str("invoice", t.invoice).Int("matches", len(matches)).Msg("[RESOLVER] Ambiguous invoice fallback, staying pending")
		}
	}

	// Tier 4
	result := &model.ResolveResult{
		Status:        model.StatusPending,
		TransactionID: t.transactionID,
		Source:        model.SourceNone,
	}
	s.metrics.ResolverAnswered(result.Source, result.Status)
	return result, nil
}

// locate implements tier 0. It returns a final result when the session or
// the persisted row is already terminal.
func (s *resolverService) locate(ctx context.Context, key string) (*target, *model.ResolveResult, error) {
	session, err := s.sessions.Get(ctx, key)
	if err == nil {
		if session.IsTerminal() {
			return nil, resultFromSession(session), nil
		}
		return &target{
			session:       session,
			paymentID:     session.PaymentID,
			invoice:       session.InvoiceNumber,
			locationID:    session.LocationID,
			transactionID: session.ExternalTransactionID,
		}, nil, nil
	}
	if !errors.Is(err, model.ErrSessionNotFound) {
		return nil, nil, err
	}

	payment, err := s.findPayment(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotFound) {
			return nil, nil, model.NewSessionNotFoundError(key)
		}
		return nil, nil, err
	}

	if payment.IsTerminal() {
		return nil, resultFromPayment(payment), nil
	}

	return &target{
		paymentID:     payment.ID,
		invoice:       payment.InvoiceNumber,
		locationID:    payment.LocationID,
		transactionID: utils.Deref(payment.ExternalTransactionID),
	}, nil, nil
}

func (s *resolverService) findPayment(ctx context.Context, key string) (*model.TerminalPayment, error) {
	if model.IsInvoiceKey(key) {
		return s.payments.GetByInvoice(ctx, key)
	}
	if id, err := uuid.Parse(key); err == nil {
		return s.payments.GetByID(ctx, id)
	}
	return nil, model.NewPaymentNotFoundError(key)
}

func (s *resolverService) queryGateway(ctx context.Context, t *target) *answer {
	ref := t.transactionID
	if ref == "" {
		ref = t.invoice
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayQueryTimeout)
	defer cancel()

	resp, err := s.gateway.QueryStatus(queryCtx, t.locationID, ref)
	if err != nil {
		log.Debug().Err(err).Str("ref", ref).Msg("[RESOLVER] Gateway query failed, falling through")
		return nil
	}

	// correlation: a gateway that reveals the transaction id binds it even
	// while the status is still pending
	if t.transactionID == "" && resp.TransactionID != "" {
		s.bind(ctx, t, resp.TransactionID)
	}

	return &answer{
		status:        resp.Status,
		transactionID: resp.TransactionID,
		last4:         resp.Last4,
		amount:        resp.Amount,
		tipAmount:     resp.TipAmount,
		baseAmount:    resp.BaseAmount,
		source:        model.SourceGateway,
	}
}

// bind attaches a transaction id to the session and the row. A transaction
// already owned by another session is left alone.
func (s *resolverService) bind(ctx context.Context, t *target, transactionID string) bool {
	if t.session != nil {
		updated, err := s.sessions.Update(ctx, t.invoice, func(p *model.PaymentSession) error {
			if p.ExternalTransactionID == "" {
				p.ExternalTransactionID = transactionID
			}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("invoice", t.invoice).Str("transaction_id", transactionID).Msg("[RESOLVER] Could not bind transaction to session")
			return false
		}
		t.session = updated
	}

	if err := s.payments.SetExternalTransactionID(ctx, t.paymentID, transactionID); err != nil {
		log.Warn().Err(err).Str("invoice", t.invoice).Str("transaction_id", transactionID).Msg("[RESOLVER] Could not bind transaction to payment")
		return false
	}

	t.transactionID = transactionID
	return true
}

// adopt writes a terminal answer back to the session and dispatches
// settlement or failure through the queue
func (s *resolverService) adopt(ctx context.Context, t *target, a *answer) *model.ResolveResult {
	if t.transactionID == "" && a.transactionID != "" {
		if !s.bind(ctx, t, a.transactionID) {
			// someone else owns this transaction; do not settle our payment with it
			result := &model.ResolveResult{Status: model.StatusPending, Source: model.SourceNone}
			s.metrics.ResolverAnswered(result.Source, result.Status)
			return result
		}
	}
	if a.transactionID == "" {
		a.transactionID = t.transactionID
	}

	if t.session != nil {
		_, err := s.sessions.Update(ctx, t.invoice, func(p *model.PaymentSession) error {
			if p.IsTerminal() {
				return nil
			}
			p.Status = a.status
			if a.last4 != "" {
				p.Last4 = a.last4
			}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("invoice", t.invoice).Msg("[RESOLVER] Failed to write answer back to session")
		}
	}

	var err error
	switch a.status {
	case model.StatusCompleted:
		err = dispatchSettlement(ctx, s.queue, t.paymentID, a.transactionID, a.source)
	default:
		err = dispatchFailure(ctx, s.queue, t.paymentID, a.transactionID, failureReason(a.status))
	}
	if err != nil {
		log.Error().Err(err).Str("payment_id", t.paymentID.String()).Str("status", a.status).Msg("[RESOLVER] Failed to dispatch settlement")
	}

	log.Info().
		Str("invoice", t.invoice).
		Str("transaction_id", a.transactionID).
		Str("status", a.status).
		Str("source", a.source).
		Msg("[RESOLVER] Terminal status resolved")

	s.metrics.ResolverAnswered(a.source, a.status)
	return &model.ResolveResult{
		Status:        a.status,
		TransactionID: a.transactionID,
		Last4:         a.last4,
		Amount:        a.amount,
		TipAmount:     a.tipAmount,
		BaseAmount:    a.baseAmount,
		Source:        a.source,
	}
}

// =====================================================
// RECONCILE SWEEP
// =====================================================

// ReconcilePending covers lost webhooks and evicted sessions: pending rows
// older than ReconcileOlderThan are queried at the gateway; rows the gateway
// still reports pending after ReconcileAbandonAfter are failed.
func (s *resolverService) ReconcilePending(ctx context.Context, limit int) (*ReconcileSummary, error) {
	now := s.now()
	stale, err := s.payments.ListStalePending(ctx, now.Add(-s.jobCfg.ReconcileOlderThan), limit)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for _, p := range stale {
		summary.Checked++

		t := &target{
			paymentID:     p.ID,
			invoice:       p.InvoiceNumber,
			locationID:    p.LocationID,
			transactionID: utils.Deref(p.ExternalTransactionID),
		}
		if session, err := s.sessions.Get(ctx, p.InvoiceNumber); err == nil {
			t.session = session
		}

		a := s.queryGateway(ctx, t)
		switch {
		case a == nil:
			summary.Errors++
		case a.status == model.StatusCompleted:
			s.adopt(ctx, t, a)
			summary.Completed++
		case model.IsTerminalStatus(a.status):
			s.adopt(ctx, t, a)
			summary.Failed++
		case now.Sub(p.CreatedAt) >= s.jobCfg.ReconcileAbandonAfter:
			if err := dispatchFailure(ctx, s.queue, p.ID, t.transactionID, model.FailureReconcileTimeout); err != nil {
				summary.Errors++
				continue
			}
			summary.Abandoned++
		}
	}

	return summary, nil
}

// =====================================================
// HELPERS
// =====================================================

func answerFromRecord(rec *model.WebhookRecord, source string) *answer {
	return &answer{
		status:        rec.Status,
		transactionID: rec.TransactionID,
		last4:         rec.Last4,
		amount:        rec.Amount,
		tipAmount:     rec.TipAmount,
		baseAmount:    rec.BaseAmount,
		source:        source,
	}
}

func resultFromSession(p *model.PaymentSession) *model.ResolveResult {
	amount := p.Amount
	tip := p.TipAmount
	base := p.Amount.Sub(p.TipAmount)
	return &model.ResolveResult{
		Status:        p.Status,
		TransactionID: p.ExternalTransactionID,
		Last4:         p.Last4,
		Amount:        &amount,
		TipAmount:     &tip,
		BaseAmount:    &base,
		Source:        model.SourceSession,
	}
}

func resultFromPayment(p *model.TerminalPayment) *model.ResolveResult {
	amount := p.Amount
	tip := p.TipAmount
	base := p.Amount.Sub(p.TipAmount)
	return &model.ResolveResult{
		Status:        p.Status,
		TransactionID: utils.Deref(p.ExternalTransactionID),
		Last4:         utils.Deref(p.CardLast4),
		Amount:        &amount,
		TipAmount:     &tip,
		BaseAmount:    &base,
		Source:        model.SourcePersisted,
	}
}

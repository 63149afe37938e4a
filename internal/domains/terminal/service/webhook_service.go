package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/internal/domains/terminal/classifier"
	"terminal-payment-backend/internal/domains/terminal/model"
	repo "terminal-payment-backend/internal/domains/terminal/repository"
	"terminal-payment-backend/internal/domains/terminal/store"
	"terminal-payment-backend/internal/infrastructure/metrics"
	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
)

// =====================================================
// WEBHOOK SERVICE IMPLEMENTATION
// =====================================================
type webhookService struct {
	sessions    store.SessionStore
	webhooks    store.WebhookCache
	payments    repo.PaymentRepository
	webhookLogs repo.WebhookLogRepository
	queue       queue.Enqueuer
	metrics     *metrics.Metrics
	secret      string
	cfg         config.TerminalConfig
	logTimeout  time.Duration
	now         func() time.Time
}

// auditLogTimeout bounds the audit insert on the request path
const auditLogTimeout = 500 * time.Millisecond

func NewWebhookService(
	sessions store.SessionStore,
	webhooks store.WebhookCache,
	payments repo.PaymentRepository,
	webhookLogs repo.WebhookLogRepository,
	q queue.Enqueuer,
	m *metrics.Metrics,
	webhookSecret string,
	cfg config.TerminalConfig,
) WebhookService {
	if webhookSecret == "" {
		log.Warn().Msg("[WEBHOOK] No webhook secret configured, signatures will not be verified")
	}

	return &webhookService{
		sessions:    sessions,
		webhooks:    webhooks,
		payments:    payments,
		webhookLogs: webhookLogs,
		queue:       q,
		metrics:     m,
		secret:      webhookSecret,
		cfg:         cfg,
		logTimeout:  auditLogTimeout,
		now:         time.Now,
	}
}

// =====================================================
// RECEIVE
// =====================================================

// Receive runs on the request path and must stay fast
//
// Flow:
// 1. Verify signature (when a secret is configured)
// 2. Parse JSON; malformed payloads are logged and acknowledged
// 3. Classify and record into the webhook cache (monotonic)
// 4. Refresh the operator marker for terminal deliveries with a tx id
// 5. Write the audit log and hand off to the enrichment job
func (s *webhookService) Receive(ctx context.Context, d WebhookDelivery) (*WebhookAck, error) {
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	entry := &model.WebhookLog{
		ID:         uuid.New(),
		RawBody:    string(d.RawBody),
		Headers:    headersOfInterest(d.Headers),
		SourceIP:   d.SourceIP,
		ReceivedAt: receivedAt,
	}

	// Step 1: Signature
	if !d.SkipSignature && s.secret != "" {
		err := VerifySignature(s.secret, d.RawBody, d.Headers)
		valid := err == nil
		entry.SignatureValid = &valid
		if err != nil {
			entry.Classification = model.ClassificationRejected
			entry.ProcessingError = utils.StringPtr(err.Error())
			s.writeLog(ctx, entry)
			s.metrics.WebhookClassified(model.ClassificationRejected)
			log.Warn().Err(err).Str("source_ip", d.SourceIP).Msg("[WEBHOOK] Signature rejected")
			return nil, err
		}
	}

	// Step 2: Parse
	payload, err := decodePayload(d.RawBody)
	if err != nil {
		entry.Classification = model.ClassificationMalformed
		entry.ProcessingError = utils.StringPtr(err.Error())
		s.writeLog(ctx, entry)
		s.metrics.WebhookClassified(model.ClassificationMalformed)
		log.Warn().Err(err).Int("bytes", len(d.RawBody)).Msg("[WEBHOOK] Malformed payload acknowledged")
		return &WebhookAck{Classification: model.ClassificationMalformed, Status: model.StatusPending}, nil
	}

	// Step 3: Classify and cache
	c := classifier.Classify(payload)
	ack := &WebhookAck{
		Classification: c.Outcome,
		Status:         c.Status,
		TransactionID:  c.TransactionID,
		InvoiceNumber:  c.InvoiceNumber,
	}

	rec := c.Record()
	if rec.CacheKey() != "" {
		merged, outcome, err := s.webhooks.Record(ctx, rec)
		switch {
		case err != nil:
			// enrichment still reaches the persisted row
			s.metrics.StoreError("webhook_record")
			log.Error().Err(err).
				Str("transaction_id", c.TransactionID).
				Str("invoice", c.InvoiceNumber).
				Msg("[WEBHOOK] Failed to record delivery in webhook cache")
		case outcome == store.OutcomeConflict:
			s.metrics.ConflictingTerminalStatus()
			log.Warn().
				Str("transaction_id", c.TransactionID).
				Str("cached_status", merged.Status).
				Str("incoming_status", c.Status).
				Msg("[WEBHOOK] Conflicting terminal status, keeping first")
		}
		if err == nil {
			ack.Outcome = outcome
			ack.Status = merged.Status
		}

		// Step 4: Operator marker
		if err == nil && merged.IsTerminal() && merged.TransactionID != "" {
			err := s.webhooks.SetLastCompleted(ctx, &model.LastCompletedMarker{
				TransactionID: merged.TransactionID,
				InvoiceNumber: merged.InvoiceNumber,
				Status:        merged.Status,
				Last4:         merged.Last4,
				Amount:        merged.Amount,
			})
			if err != nil {
				log.Warn().Err(err).Msg("[WEBHOOK] Failed to update last completed marker")
			}
		}
	}

	// Step 5: Audit log and hand-off
	entry.Classification = c.Outcome
	entry.TransactionID = utils.StringPtr(c.TransactionID)
	entry.InvoiceNumber = utils.StringPtr(c.InvoiceNumber)
	s.writeLog(ctx, entry)
	s.metrics.WebhookClassified(c.Outcome)

	if c.IsTerminal() || (c.TransactionID != "" && c.InvoiceNumber != "") {
		err := dispatchEnrichment(ctx, s.queue, shared.EnrichWebhookPayload{
			TransactionID: c.TransactionID,
			InvoiceNumber: c.InvoiceNumber,
			Status:        ack.Status,
			Last4:         c.Last4,
			Amount:        utils.DecimalString(c.Amount),
			TipAmount:     utils.DecimalString(c.TipAmount),
			BaseAmount:    utils.DecimalString(c.BaseAmount),
			WebhookLogID:  entry.ID.String(),
			ReceivedAt:    receivedAt,
		})
		if err != nil {
			// the resolver still finds the cached record on the next poll
			log.Error().Err(err).Str("transaction_id", c.TransactionID).Msg("[WEBHOOK] Failed to enqueue enrichment")
		}
	}

	log.Info().
		Str("transaction_id", c.TransactionID).
		Str("invoice", c.InvoiceNumber).
		Str("status", ack.Status).
		Str("classification", c.Outcome).
		Str("matched_field", c.MatchedField).
		Msg("[WEBHOOK] Delivery classified")

	return ack, nil
}

// =====================================================
// ENRICH (worker)
// =====================================================

// Enrich attributes a delivery in this order:
//  1. session bound to the transaction id
//  2. session for the invoice
//  3. persisted row by transaction id or invoice (evicted sessions)
//  4. no invoice: the single open session started inside AttributionWindow.
//     An unknown transaction id only matches unbound sessions, a delivery
//     without one matches any. More than one candidate is ambiguous.
func (s *webhookService) Enrich(ctx context.Context, p shared.EnrichWebhookPayload) error {
	logID := utils.ParseStringToUUID(p.WebhookLogID)

	session, err := s.attributeSession(ctx, p)
	if err != nil {
		return err
	}

	var (
		paymentID     uuid.UUID
		transactionID = p.TransactionID
	)

	switch {
	case session != nil:
		paymentID = session.PaymentID
		updated, err := s.applyToSession(ctx, session, p)
		if err != nil {
			return err
		}
		if transactionID == "" {
			transactionID = updated.ExternalTransactionID
		}
		if updated.IsTerminal() && updated.Status != p.Status {
			log.Warn().
				Str("invoice", updated.InvoiceNumber).
				Str("session_status", updated.Status).
				Str("webhook_status", p.Status).
				Msg("[WEBHOOK] Session already terminal with another status")
			s.markLog(ctx, logID, "session already "+updated.Status)
			return nil
		}

	default:
		payment, err := s.findPersisted(ctx, p)
		if err != nil {
			return err
		}
		if payment == nil {
			log.Warn().
				Str("transaction_id", p.TransactionID).
				Str("invoice", p.InvoiceNumber).
				Msg("[WEBHOOK] Delivery could not be attributed")
			s.markLog(ctx, logID, "unattributed")
			return nil
		}
		paymentID = payment.ID
		if transactionID == "" {
			transactionID = utils.Deref(payment.ExternalTransactionID)
		}
		if payment.ExternalTransactionID == nil && transactionID != "" {
			if err := s.payments.SetExternalTransactionID(ctx, payment.ID, transactionID); err != nil {
				log.Warn().Err(err).Str("transaction_id", transactionID).Msg("[WEBHOOK] Could not bind transaction to payment")
			}
		}
		if payment.IsTerminal() {
			s.markLog(ctx, logID, "")
			return nil
		}
	}

	switch p.Status {
	case model.StatusCompleted:
		err = dispatchSettlement(ctx, s.queue, paymentID, transactionID, model.SourceWebhook)
	case model.StatusFailed, model.StatusCancelled:
		err = dispatchFailure(ctx, s.queue, paymentID, transactionID, failureReason(p.Status))
	}
	if err != nil {
		return err
	}

	s.markLog(ctx, logID, "")
	return nil
}

func (s *webhookService) attributeSession(ctx context.Context, p shared.EnrichWebhookPayload) (*model.PaymentSession, error) {
	if p.TransactionID != "" {
		session, err := s.sessions.GetByTransactionID(ctx, p.TransactionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, model.ErrSessionNotFound) {
			return nil, err
		}
	}

	if p.InvoiceNumber != "" {
		session, err := s.sessions.Get(ctx, p.InvoiceNumber)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, model.ErrSessionNotFound) {
			return nil, err
		}
		return nil, nil
	}

	if p.TransactionID != "" {
		// a row already owning this transaction is handled by findPersisted
		if _, err := s.payments.GetByExternalTransactionID(ctx, p.TransactionID); err == nil {
			return nil, nil
		} else if !errors.Is(err, model.ErrPaymentNotFound) {
			return nil, err
		}
	}

	open, err := s.sessions.RecentOpen(ctx, s.now().Add(-s.cfg.AttributionWindow))
	if err != nil {
		return nil, err
	}

	// without a transaction id any open session qualifies; with one, only
	// sessions not yet bound to another transaction
	var candidates []*model.PaymentSession
	for _, session := range open {
		if p.TransactionID == "" || session.ExternalTransactionID == "" {
			candidates = append(candidates, session)
		}
	}

	if len(candidates) != 1 {
		if len(candidates) > 1 {
			log.Warn().
				Str("transaction_id", p.TransactionID).
				Int("candidates", len(candidates)).
				Msg("[WEBHOOK] Ambiguous attribution, leaving delivery unattributed")
		}
		return nil, nil
	}

	log.Info().
		Str("transaction_id", p.TransactionID).
		Str("invoice", candidates[0].InvoiceNumber).
		Msg("[WEBHOOK] Attributed to the only open session")
	return candidates[0], nil
}

// applyToSession binds the transaction and applies a terminal status
func (s *webhookService) applyToSession(ctx context.Context, session *model.PaymentSession, p shared.EnrichWebhookPayload) (*model.PaymentSession, error) {
	bindTx := p.TransactionID != "" && session.ExternalTransactionID == ""

	updated, err := s.sessions.Update(ctx, session.InvoiceNumber, func(cur *model.PaymentSession) error {
		if bindTx && cur.ExternalTransactionID == "" {
			cur.ExternalTransactionID = p.TransactionID
		}
		if !cur.IsTerminal() && model.IsTerminalStatus(p.Status) {
			cur.Status = p.Status
			if p.Last4 != "" {
				cur.Last4 = p.Last4
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if bindTx {
		if err := s.payments.SetExternalTransactionID(ctx, session.PaymentID, p.TransactionID); err != nil {
			log.Warn().Err(err).Str("transaction_id", p.TransactionID).Msg("[WEBHOOK] Could not bind transaction to payment")
		}
	}

	return updated, nil
}

func (s *webhookService) findPersisted(ctx context.Context, p shared.EnrichWebhookPayload) (*model.TerminalPayment, error) {
	if p.TransactionID != "" {
		payment, err := s.payments.GetByExternalTransactionID(ctx, p.TransactionID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, model.ErrPaymentNotFound) {
			return nil, err
		}
	}

	if p.InvoiceNumber != "" {
		payment, err := s.payments.GetByInvoice(ctx, p.InvoiceNumber)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, model.ErrPaymentNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// =====================================================
// OPERATOR MARKER
// =====================================================

func (s *webhookService) LastCompleted(ctx context.Context) (*model.LastCompletedMarker, bool, error) {
	return s.webhooks.LastCompleted(ctx)
}

// =====================================================
// HELPERS
// =====================================================

// decodePayload keeps numbers as json.Number so ids never become floats
func decodePayload(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, model.ErrMalformedWebhook
	}
	return payload, nil
}

func (s *webhookService) writeLog(ctx context.Context, entry *model.WebhookLog) {
	if s.webhookLogs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.logTimeout)
	defer cancel()

	if err := s.webhookLogs.Create(ctx, entry); err != nil {
		log.Error().Err(err).Str("webhook_log_id", entry.ID.String()).Msg("[WEBHOOK] Failed to write webhook log")
	}
}

func (s *webhookService) markLog(ctx context.Context, id uuid.UUID, processingError string) {
	if s.webhookLogs == nil || id == uuid.Nil {
		return
	}

	var err error
	if processingError != "" {
		err = s.webhookLogs.MarkProcessingError(ctx, id, processingError)
	} else {
		err = s.webhookLogs.MarkProcessed(ctx, id)
	}
	if err != nil {
		log.Warn().Err(err).Str("webhook_log_id", id.String()).Msg("[WEBHOOK] Failed to update webhook log")
	}
}

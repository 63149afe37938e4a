package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/store"
	"terminal-payment-backend/internal/shared"
)

func TestWebhook_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.acceptEvents()
	resp := h.start(t, "50.00")

	ack := h.deliver(t, `{"id":"TX1","approved":true,"cardNumber":"4111111111114242"}`)
	assert.Equal(t, model.ClassificationCompleted, ack.Classification)
	assert.Equal(t, store.OutcomeStored, ack.Outcome)

	h.drainEnrichment(t)

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, session.Status)
	assert.Equal(t, "TX1", session.ExternalTransactionID)
	assert.Equal(t, "4242", session.Last4)

	results := h.drainSettlement(t)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusCompleted, results[0].Status)
	assert.Equal(t, "TX1", results[0].TransactionID)
	assert.Equal(t, model.StatusCompleted, h.payments.status(resp.PaymentID))

	polled, err := h.resolver.Resolve(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, polled.Status)
	assert.Equal(t, "TX1", polled.TransactionID)

	entry := h.logs.last()
	require.NotNil(t, entry)
	assert.Equal(t, model.ClassificationCompleted, entry.Classification)
	assert.True(t, *entry.SignatureValid)
	msg, processed := h.logs.processed[entry.ID]
	assert.True(t, processed)
	assert.Empty(t, msg)
	assert.NotContains(t, entry.Headers, "webhook-signature")
	assert.Equal(t, "webhook-signature", entry.Headers["signature_header"])

	h.publisher.AssertNumberOfCalls(t, "PublishPaymentCompleted", 1)
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"id":"TX1","approved":true}`)

	headers := http.Header{}
	headers.Set("Webhook-Signature", sign([]byte(`{"id":"TX1","approved":false}`)))

	ack, err := h.webhookSvc.Receive(context.Background(), WebhookDelivery{RawBody: body, Headers: headers})
	assert.Nil(t, ack)
	assert.ErrorIs(t, err, model.ErrInvalidSignature)

	_, found, err := h.webhooks.Get(context.Background(), "TX1")
	require.NoError(t, err)
	assert.False(t, found)

	entry := h.logs.last()
	require.NotNil(t, entry)
	assert.Equal(t, model.ClassificationRejected, entry.Classification)
	assert.False(t, *entry.SignatureValid)
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.webhookSvc.Receive(context.Background(), WebhookDelivery{RawBody: []byte(`{}`), Headers: http.Header{}})
	assert.ErrorIs(t, err, model.ErrMissingSignature)
}

func TestWebhook_SkipSignatureForSimulation(t *testing.T) {
	h := newHarness(t)

	ack, err := h.webhookSvc.Receive(context.Background(), WebhookDelivery{
		RawBody:       []byte(`{"id":"TX5","status":"APPROVED"}`),
		Headers:       http.Header{},
		SkipSignature: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, ack.Status)
}

func TestWebhook_MalformedAcknowledged(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{`not json`, `null`, `[1,2]`} {
		ack := h.deliver(t, body)
		assert.Equal(t, model.ClassificationMalformed, ack.Classification, body)
		assert.Equal(t, model.ClassificationMalformed, h.logs.last().Classification, body)
	}
	assert.Empty(t, h.queue.ofType(shared.TypeEnrichWebhook))
}

func TestWebhook_ConflictingTerminalKeepsFirst(t *testing.T) {
	h := newHarness(t)

	first := h.deliver(t, `{"id":"TX1","approved":true}`)
	assert.Equal(t, model.StatusCompleted, first.Status)

	second := h.deliver(t, `{"id":"TX1","approved":false}`)
	assert.Equal(t, store.OutcomeConflict, second.Outcome)
	assert.Equal(t, model.StatusCompleted, second.Status)

	rec, found, err := h.webhooks.Get(context.Background(), "TX1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StatusCompleted, rec.Status)
}

func TestWebhook_LastCompletedMarker(t *testing.T) {
	h := newHarness(t)

	h.deliver(t, `{"id":"TX1","approved":true,"amount":"50.00"}`)

	marker, ok, err := h.webhookSvc.LastCompleted(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "TX1", marker.TransactionID)
	assert.Equal(t, model.StatusCompleted, marker.Status)

	h.clock.Advance(testTerminalConfig.LastCompletedTTL)
	_, ok, err = h.webhookSvc.LastCompleted(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWebhook_PendingWithoutInvoiceNotEnqueued(t *testing.T) {
	h := newHarness(t)

	ack := h.deliver(t, `{"id":"TX1","note":"prompt shown"}`)
	assert.Equal(t, model.ClassificationAmbiguous, ack.Classification)
	assert.Empty(t, h.queue.ofType(shared.TypeEnrichWebhook))
}

func TestEnrich_ByInvoice(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")

	err := h.webhookSvc.Enrich(context.Background(), shared.EnrichWebhookPayload{
		TransactionID: "TX2",
		InvoiceNumber: resp.InvoiceNumber,
		Status:        model.StatusFailed,
	})
	require.NoError(t, err)

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, session.Status)
	assert.Equal(t, "TX2", session.ExternalTransactionID)

	fails := h.queue.ofType(shared.TypeFailPayment)
	require.Len(t, fails, 1)
	assert.Equal(t, resp.PaymentID.String(), payloadOf[shared.FailPaymentPayload](t, fails[0]).PaymentID)
}

func TestEnrich_AmbiguousAttributionLeavesUnattributed(t *testing.T) {
	h := newHarness(t)
	h.start(t, "50.00")
	h.start(t, "75.00")

	entry := h.deliver(t, `{"id":"TX1","approved":true}`)
	require.NotNil(t, entry)
	h.drainEnrichment(t)

	logEntry := h.logs.last()
	assert.Equal(t, "unattributed", h.logs.processed[logEntry.ID])
	assert.Empty(t, h.queue.ofType(shared.TypeSettlePayment))
}

func TestEnrich_AttributionWindow(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")

	// keep the session alive past the window; attribution goes by start time
	h.clock.Advance(testTerminalConfig.AttributionWindow / 2)
	_, err := h.sessions.Update(context.Background(), resp.InvoiceNumber, func(*model.PaymentSession) error { return nil })
	require.NoError(t, err)
	h.clock.Advance(testTerminalConfig.AttributionWindow/2 + time.Second)

	err = h.webhookSvc.Enrich(context.Background(), shared.EnrichWebhookPayload{
		TransactionID: "TX1",
		Status:        model.StatusCompleted,
	})
	require.NoError(t, err)
	assert.Empty(t, h.queue.ofType(shared.TypeSettlePayment))

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Empty(t, session.ExternalTransactionID)
}

func TestEnrich_EvictedSessionUsesPersistedRow(t *testing.T) {
	h := newHarness(t)
	p := h.pendingPayment("INV-20260302090000-dddddd", time.Hour)

	err := h.webhookSvc.Enrich(context.Background(), shared.EnrichWebhookPayload{
		TransactionID: "TX4",
		InvoiceNumber: p.InvoiceNumber,
		Status:        model.StatusCompleted,
	})
	require.NoError(t, err)

	settles := h.queue.ofType(shared.TypeSettlePayment)
	require.Len(t, settles, 1)
	payload := payloadOf[shared.SettlePaymentPayload](t, settles[0])
	assert.Equal(t, p.ID.String(), payload.PaymentID)
	assert.Equal(t, "TX4", payload.TransactionID)

	bound, err := h.payments.GetByExternalTransactionID(context.Background(), "TX4")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bound.ID)
}

func TestEnrich_TerminalSessionIgnoresOtherStatus(t *testing.T) {
	h := newHarness(t)
	h.gateway.SetStartTransactionID("TX1")
	resp := h.start(t, "50.00")

	_, err := h.sessions.Update(context.Background(), resp.InvoiceNumber, func(p *model.PaymentSession) error {
		p.Status = model.StatusCompleted
		return nil
	})
	require.NoError(t, err)

	err = h.webhookSvc.Enrich(context.Background(), shared.EnrichWebhookPayload{
		TransactionID: "TX1",
		Status:        model.StatusFailed,
	})
	require.NoError(t, err)

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, session.Status)
	assert.Empty(t, h.queue.ofType(shared.TypeFailPayment))
}

func TestEnrich_DeliveryWithoutIdentifiersUsesOnlyOpenSession(t *testing.T) {
	h := newHarness(t)
	h.acceptEvents()
	resp := h.start(t, "50.00")

	ack := h.deliver(t, `{"approved":true}`)
	assert.Equal(t, model.StatusCompleted, ack.Status)
	h.drainEnrichment(t)

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, session.Status)
	assert.Empty(t, session.ExternalTransactionID)

	settles := h.queue.ofType(shared.TypeSettlePayment)
	require.Len(t, settles, 1)
	assert.Equal(t, resp.PaymentID.String(), payloadOf[shared.SettlePaymentPayload](t, settles[0]).PaymentID)

	results := h.drainSettlement(t)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusCompleted, h.payments.status(resp.PaymentID))

	logEntry := h.logs.last()
	msg, processed := h.logs.processed[logEntry.ID]
	assert.True(t, processed)
	assert.Empty(t, msg)
}

func TestEnrich_DeliveryWithoutIdentifiersUsesBoundTransaction(t *testing.T) {
	h := newHarness(t)
	h.gateway.SetStartTransactionID("TX7")
	resp := h.start(t, "50.00")

	h.deliver(t, `{"approved":false}`)
	h.drainEnrichment(t)

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, session.Status)
	assert.Equal(t, "TX7", session.ExternalTransactionID)

	fails := h.queue.ofType(shared.TypeFailPayment)
	require.Len(t, fails, 1)
	payload := payloadOf[shared.FailPaymentPayload](t, fails[0])
	assert.Equal(t, resp.PaymentID.String(), payload.PaymentID)
	assert.Equal(t, "TX7", payload.TransactionID)
}

func TestEnrich_DeliveryWithoutIdentifiersAmbiguous(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, "50.00")
	h.start(t, "75.00")

	h.deliver(t, `{"approved":true}`)
	h.drainEnrichment(t)

	session, err := h.sessions.Get(context.Background(), first.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, session.Status)
	assert.Empty(t, h.queue.ofType(shared.TypeSettlePayment))
	assert.Equal(t, "unattributed", h.logs.processed[h.logs.last().ID])
}

func TestEnrich_CancelledDeliveryDispatchesCancellation(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")

	err := h.webhookSvc.Enrich(context.Background(), shared.EnrichWebhookPayload{
		TransactionID: "TX3",
		InvoiceNumber: resp.InvoiceNumber,
		Status:        model.StatusCancelled,
	})
	require.NoError(t, err)

	fails := h.queue.ofType(shared.TypeFailPayment)
	require.Len(t, fails, 1)
	assert.Equal(t, model.FailureCancelled, payloadOf[shared.FailPaymentPayload](t, fails[0]).Reason)
}

// failingWebhookCache loses every Record call
type failingWebhookCache struct {
	store.WebhookCache
	err error
}

func (c *failingWebhookCache) Record(context.Context, *model.WebhookRecord) (*model.WebhookRecord, store.RecordOutcome, error) {
	return nil, "", c.err
}

func TestWebhook_CacheFailureStillAcknowledged(t *testing.T) {
	h := newHarness(t)
	cache := &failingWebhookCache{WebhookCache: h.webhooks, err: errors.New("redis: connection refused")}
	svc := NewWebhookService(h.sessions, cache, h.payments, h.logs, h.queue, nil, testWebhookSecret, testTerminalConfig)

	body := []byte(`{"id":"TX9","approved":true}`)
	headers := http.Header{}
	headers.Set("Webhook-Signature", sign(body))

	ack, err := svc.Receive(context.Background(), WebhookDelivery{RawBody: body, Headers: headers})
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, model.StatusCompleted, ack.Status)
	assert.Equal(t, "TX9", ack.TransactionID)

	require.NotNil(t, h.logs.last())
	assert.Len(t, h.queue.ofType(shared.TypeEnrichWebhook), 1)

	_, ok, err := h.webhooks.LastCompleted(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

// blockingWebhookLogs holds Create until the caller gives up
type blockingWebhookLogs struct {
	*fakeWebhookLogs
}

func (b *blockingWebhookLogs) Create(ctx context.Context, _ *model.WebhookLog) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWebhook_SlowAuditLogDoesNotHoldAck(t *testing.T) {
	h := newHarness(t)
	svc := NewWebhookService(h.sessions, h.webhooks, h.payments, &blockingWebhookLogs{h.logs}, h.queue, nil, testWebhookSecret, testTerminalConfig).(*webhookService)
	svc.logTimeout = 20 * time.Millisecond

	body := []byte(`{"id":"TX10","approved":true}`)
	headers := http.Header{}
	headers.Set("Webhook-Signature", sign(body))

	started := time.Now()
	ack, err := svc.Receive(context.Background(), WebhookDelivery{RawBody: body, Headers: headers})
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Less(t, time.Since(started), time.Second)
	assert.Len(t, h.queue.ofType(shared.TypeEnrichWebhook), 1)
}

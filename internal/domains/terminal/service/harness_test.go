package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"terminal-payment-backend/internal/config"
	gwmock "terminal-payment-backend/internal/domains/terminal/gateway/mock"
	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/store"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
)

const testWebhookSecret = "whsec_test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testTerminalConfig = config.TerminalConfig{
	StoreBackend:        config.StoreBackendMemory,
	SessionTTL:          10 * time.Minute,
	WebhookRecordTTL:    2 * time.Minute,
	LastCompletedTTL:    90 * time.Second,
	AttributionWindow:   10 * time.Minute,
	GatewayQueryTimeout: time.Second,
	GatewayStartTimeout: time.Second,
}

var testJobConfig = config.JobConfig{
	ReconcileBatchSize:    50,
	ReconcileOlderThan:    10 * time.Minute,
	ReconcileAbandonAfter: time.Hour,
}

// harness wires every service over in-memory stores, fake repositories
// and the scripted gateway
type harness struct {
	clock        *testClock
	sessions     *store.MemorySessionStore
	webhooks     *store.MemoryWebhookCache
	payments     *fakePayments
	appointments *fakeAppointments
	rates        fakeStaffRates
	commissions  *fakeCommissions
	logs         *fakeWebhookLogs
	queue        *recordingQueue
	gateway      *gwmock.Gateway
	publisher    *mockPublisher

	sessionSvc SessionService
	resolver   ResolverService
	webhookSvc WebhookService
	settlement SettlementService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	h := &harness{
		clock:        clock,
		sessions:     store.NewMemorySessionStore(testTerminalConfig.SessionTTL, store.WithClock(clock.Now)),
		webhooks:     store.NewMemoryWebhookCache(testTerminalConfig.WebhookRecordTTL, testTerminalConfig.LastCompletedTTL, store.WithClock(clock.Now)),
		payments:     newFakePayments(),
		appointments: &fakeAppointments{rows: make(map[uuid.UUID]*model.Appointment)},
		rates:        fakeStaffRates{},
		commissions:  &fakeCommissions{rows: make(map[uuid.UUID]*model.Commission)},
		logs:         newFakeWebhookLogs(),
		queue:        newRecordingQueue(),
		gateway:      gwmock.NewGateway(),
		publisher:    &mockPublisher{},
	}
	h.payments.now = clock.Now

	sessionSvc := NewSessionService(h.sessions, h.payments, h.gateway, testTerminalConfig).(*sessionService)
	sessionSvc.now = clock.Now
	h.sessionSvc = sessionSvc

	resolver := NewResolverService(h.sessions, h.webhooks, h.payments, h.gateway, h.queue, nil, testTerminalConfig, testJobConfig).(*resolverService)
	resolver.now = clock.Now
	h.resolver = resolver

	webhookSvc := NewWebhookService(h.sessions, h.webhooks, h.payments, h.logs, h.queue, nil, testWebhookSecret, testTerminalConfig).(*webhookService)
	webhookSvc.now = clock.Now
	h.webhookSvc = webhookSvc

	settlement := NewSettlementService(h.payments, h.appointments, h.rates, h.commissions, &fakeTxManager{}, h.sessions, h.resolver, h.publisher, nil).(*settlementService)
	settlement.now = clock.Now
	h.settlement = settlement

	return h
}

func (h *harness) start(t *testing.T, amount string) *model.StartPaymentResponse {
	t.Helper()
	resp, err := h.sessionSvc.Start(context.Background(), model.StartPaymentRequest{
		LocationID: "L1",
		Amount:     decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return resp
}

// pendingPayment inserts a pending row created at the current clock
func (h *harness) pendingPayment(invoice string, age time.Duration) *model.TerminalPayment {
	return h.payments.put(&model.TerminalPayment{
		ID:            uuid.New(),
		InvoiceNumber: invoice,
		LocationID:    "L1",
		Amount:        decimal.NewFromInt(100),
		TipAmount:     decimal.NewFromInt(20),
		Status:        model.StatusPending,
		CreatedAt:     h.clock.Now().Add(-age),
	})
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *harness) deliver(t *testing.T, body string) *WebhookAck {
	t.Helper()
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Webhook-Signature", sign([]byte(body)))

	ack, err := h.webhookSvc.Receive(context.Background(), WebhookDelivery{
		RawBody:  []byte(body),
		Headers:  headers,
		SourceIP: "203.0.113.7",
	})
	require.NoError(t, err)
	return ack
}

// drainEnrichment runs every queued enrichment task, as the worker would
func (h *harness) drainEnrichment(t *testing.T) {
	t.Helper()
	for _, task := range h.queue.ofType(shared.TypeEnrichWebhook) {
		var payload shared.EnrichWebhookPayload
		require.NoError(t, utils.UnmarshalTask(task, &payload))
		require.NoError(t, h.webhookSvc.Enrich(context.Background(), payload))
	}
}

// drainSettlement runs queued settle tasks
func (h *harness) drainSettlement(t *testing.T) []*model.SettlementResult {
	t.Helper()
	var results []*model.SettlementResult
	for _, task := range h.queue.ofType(shared.TypeSettlePayment) {
		var payload shared.SettlePaymentPayload
		require.NoError(t, utils.UnmarshalTask(task, &payload))
		id := uuid.MustParse(payload.PaymentID)
		result, err := h.settlement.Complete(context.Background(), model.CompleteRequest{
			TransactionID: payload.TransactionID,
			PaymentID:     &id,
		})
		require.NoError(t, err)
		results = append(results, result)
	}
	return results
}

func payloadOf[T any](t *testing.T, task *asynq.Task) T {
	t.Helper()
	var out T
	require.NoError(t, utils.UnmarshalTask(task, &out))
	return out
}

// acceptEvents lets every payment.completed publish succeed
func (h *harness) acceptEvents() {
	h.publisher.On("PublishPaymentCompleted", mock.Anything, mock.Anything).Return(nil)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/middleware"
)

// =====================================================
// SERVICE MOCKS
// =====================================================

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Start(ctx context.Context, req model.StartPaymentRequest) (*model.StartPaymentResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*model.StartPaymentResponse)
	return resp, args.Error(1)
}

func (m *mockSessions) Get(ctx context.Context, key string) (*model.PaymentSession, error) {
	args := m.Called(ctx, key)
	s, _ := args.Get(0).(*model.PaymentSession)
	return s, args.Error(1)
}

func (m *mockSessions) Cancel(ctx context.Context, key string, req model.CancelPaymentRequest) (*model.CancelPaymentResponse, error) {
	args := m.Called(ctx, key, req)
	resp, _ := args.Get(0).(*model.CancelPaymentResponse)
	return resp, args.Error(1)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, key string) (*model.ResolveResult, error) {
	args := m.Called(ctx, key)
	r, _ := args.Get(0).(*model.ResolveResult)
	return r, args.Error(1)
}

func (m *mockResolver) ReconcilePending(ctx context.Context, limit int) (*service.ReconcileSummary, error) {
	args := m.Called(ctx, limit)
	s, _ := args.Get(0).(*service.ReconcileSummary)
	return s, args.Error(1)
}

type mockSettlement struct{ mock.Mock }

func (m *mockSettlement) Complete(ctx context.Context, req model.CompleteRequest) (*model.SettlementResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*model.SettlementResult)
	return r, args.Error(1)
}

func (m *mockSettlement) CompleteByInvoice(ctx context.Context, req model.CompleteByInvoiceRequest) (*model.SettlementResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*model.SettlementResult)
	return r, args.Error(1)
}

func (m *mockSettlement) Fail(ctx context.Context, req model.FailRequest) (*model.SettlementResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*model.SettlementResult)
	return r, args.Error(1)
}

type mockWebhooks struct{ mock.Mock }

func (m *mockWebhooks) Receive(ctx context.Context, d service.WebhookDelivery) (*service.WebhookAck, error) {
	args := m.Called(ctx, d)
	a, _ := args.Get(0).(*service.WebhookAck)
	return a, args.Error(1)
}

func (m *mockWebhooks) Enrich(ctx context.Context, p shared.EnrichWebhookPayload) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockWebhooks) LastCompleted(ctx context.Context) (*model.LastCompletedMarker, bool, error) {
	args := m.Called(ctx)
	marker, _ := args.Get(0).(*model.LastCompletedMarker)
	return marker, args.Bool(1), args.Error(2)
}

type mockReports struct{ mock.Mock }

func (m *mockReports) ExportCommissions(ctx context.Context, req model.CommissionReportRequest) (*excelize.File, error) {
	args := m.Called(ctx, req)
	f, _ := args.Get(0).(*excelize.File)
	return f, args.Error(1)
}

// =====================================================
// HELPERS
// =====================================================

type fixture struct {
	sessions   *mockSessions
	resolver   *mockResolver
	settlement *mockSettlement
	webhooks   *mockWebhooks
	reports    *mockReports
	router     *gin.Engine
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)

	f := &fixture{
		sessions:   &mockSessions{},
		resolver:   &mockResolver{},
		settlement: &mockSettlement{},
		webhooks:   &mockWebhooks{},
		reports:    &mockReports{},
	}
	th := NewTerminalHandler(f.sessions, f.resolver, f.settlement, f.webhooks)
	wh := NewWebhookHandler(f.webhooks)
	rh := NewReportHandler(f.reports)

	r := gin.New()
	r.Use(middleware.ClientIP())
	v1 := r.Group("/api/v1")
	v1.POST("/terminal/payments", th.StartPayment)
	v1.GET("/terminal/payments/:key", middleware.NoCache(), th.GetPaymentStatus)
	v1.POST("/terminal/payments/:key/cancel", th.CancelPayment)
	v1.POST("/terminal/payments/complete", th.CompletePayment)
	v1.POST("/terminal/payments/complete-by-invoice", th.CompleteByInvoice)
	v1.GET("/terminal/webhooks/last", th.LastCompletedWebhook)
	v1.GET("/terminal/reports/commissions", rh.ExportCommissions)
	v1.GET("/webhooks/helcim", wh.Validate)
	v1.POST("/webhooks/helcim", wh.Receive)
	v1.POST("/webhooks/helcim/simulate", wh.Simulate)
	r.GET("/webhook/helcim", wh.LegacyStatus)
	r.POST("/webhook/helcim", wh.Receive)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// =====================================================
// TESTS
// =====================================================

func TestStartPayment(t *testing.T) {
	f := newFixture()
	paymentID := uuid.New()
	f.sessions.On("Start", mock.Anything, mock.MatchedBy(func(r model.StartPaymentRequest) bool {
		return r.LocationID == "L1" && r.Amount.String() == "50"
	})).Return(&model.StartPaymentResponse{
		InvoiceNumber: "INV-20260302100000-abcdef",
		PaymentID:     paymentID,
		Status:        model.StatusPending,
	}, nil)

	w := f.do(http.MethodPost, "/api/v1/terminal/payments", `{"locationId":"L1","amount":50}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "INV-20260302100000-abcdef", data["invoiceNumber"])
	assert.Equal(t, paymentID.String(), data["paymentId"])
}

func TestStartPayment_GatewayUnavailable(t *testing.T) {
	f := newFixture()
	f.sessions.On("Start", mock.Anything, mock.Anything).
		Return(nil, model.NewGatewayUnavailableError("start", errors.New("dial tcp: timeout")))

	w := f.do(http.MethodPost, "/api/v1/terminal/payments", `{"locationId":"L1","amount":50}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decodeBody(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, model.ErrCodeGatewayUnavailable, errBody["code"])
	assert.NotContains(t, errBody["message"], "dial tcp")
}

func TestStartPayment_BadJSON(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/api/v1/terminal/payments", `{"locationId":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.sessions.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestGetPaymentStatus_NoCacheHeaders(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve", mock.Anything, "INV-1").Return(&model.ResolveResult{
		Status:        model.StatusCompleted,
		TransactionID: "TX1",
		Source:        model.SourceWebhook,
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/terminal/payments/INV-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Equal(t, "0", w.Header().Get("Expires"))

	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, model.StatusCompleted, data["status"])
	assert.Equal(t, "TX1", data["transactionId"])
}

func TestGetPaymentStatus_NotFound(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve", mock.Anything, "INV-404").Return(nil, model.NewSessionNotFoundError("INV-404"))

	w := f.do(http.MethodGet, "/api/v1/terminal/payments/INV-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelPayment_NotCancellable(t *testing.T) {
	f := newFixture()
	f.sessions.On("Cancel", mock.Anything, "INV-1", model.CancelPaymentRequest{LocationID: "L1"}).
		Return(nil, model.NewSessionNotCancellableError(model.StatusCompleted))

	w := f.do(http.MethodPost, "/api/v1/terminal/payments/INV-1/cancel", `{"locationId":"L1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.ErrCodeSessionNotCancellable, decodeBody(t, w)["error"].(map[string]interface{})["code"])
}

func TestCompletePayment_ValidationDetails(t *testing.T) {
	f := newFixture()
	f.settlement.On("Complete", mock.Anything, mock.Anything).
		Return(nil, model.NewValidationError(errors.New("transactionId: transactionId is required.")))

	w := f.do(http.MethodPost, "/api/v1/terminal/payments/complete", `{"transactionId":"TX1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, model.ErrCodeValidation, errBody["code"])
	assert.Contains(t, errBody["details"], "transactionId")
}

func TestCompleteByInvoice(t *testing.T) {
	f := newFixture()
	f.settlement.On("CompleteByInvoice", mock.Anything, model.CompleteByInvoiceRequest{InvoiceNumber: "INV-1"}).
		Return(&model.SettlementResult{Status: model.StatusCompleted, TransactionID: "TX1", AlreadyCompleted: true}, nil)

	w := f.do(http.MethodPost, "/api/v1/terminal/payments/complete-by-invoice", `{"invoiceNumber":"INV-1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["data"].(map[string]interface{})["alreadyCompleted"])
}

func TestLastCompletedWebhook(t *testing.T) {
	f := newFixture()
	f.webhooks.On("LastCompleted", mock.Anything).Return(nil, false, nil).Once()

	w := f.do(http.MethodGet, "/api/v1/terminal/webhooks/last", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.webhooks.On("LastCompleted", mock.Anything).
		Return(&model.LastCompletedMarker{TransactionID: "TX1", Status: model.StatusCompleted}, true, nil).Once()

	w = f.do(http.MethodGet, "/api/v1/terminal/webhooks/last", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_ValidationHandshake(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/api/v1/webhooks/helcim", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "validation_successful", decodeBody(t, w)["status"])

	w = f.do(http.MethodGet, "/webhook/helcim", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decodeBody(t, w)["status"])
}

func TestWebhook_ReceivePassesRawBody(t *testing.T) {
	raw := `{"id": "TX1", "approved": true}`

	for _, path := range []string{"/api/v1/webhooks/helcim", "/webhook/helcim"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture()
			f.webhooks.On("Receive", mock.Anything, mock.MatchedBy(func(d service.WebhookDelivery) bool {
				return string(d.RawBody) == raw && !d.SkipSignature && d.SourceIP != ""
			})).Return(&service.WebhookAck{
				Classification: model.ClassificationCompleted,
				Status:         model.StatusCompleted,
				TransactionID:  "TX1",
			}, nil)

			w := f.do(http.MethodPost, path, raw)
			assert.Equal(t, http.StatusOK, w.Code)

			body := decodeBody(t, w)
			assert.Equal(t, "received", body["status"])
			assert.Equal(t, model.StatusCompleted, body["paymentStatus"])
			f.webhooks.AssertExpectations(t)
		})
	}
}

func TestWebhook_SignatureErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"missing", model.NewTerminalError(model.ErrCodeMissingSignature, "Missing webhook signature", model.ErrMissingSignature), http.StatusBadRequest},
		{"invalid", model.NewTerminalError(model.ErrCodeInvalidSignature, "Invalid webhook signature", model.ErrInvalidSignature), http.StatusForbidden},
		{"cache down", errors.New("redis: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.webhooks.On("Receive", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := f.do(http.MethodPost, "/api/v1/webhooks/helcim", `{}`)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "error", decodeBody(t, w)["status"])
			assert.NotContains(t, w.Body.String(), "redis")
		})
	}
}

func TestWebhook_SimulateSkipsSignature(t *testing.T) {
	f := newFixture()
	f.webhooks.On("Receive", mock.Anything, mock.MatchedBy(func(d service.WebhookDelivery) bool {
		return d.SkipSignature
	})).Return(&service.WebhookAck{Classification: model.ClassificationAmbiguous, Status: model.StatusPending}, nil)

	w := f.do(http.MethodPost, "/api/v1/webhooks/helcim/simulate", `{"id":"TX1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	f.webhooks.AssertExpectations(t)
}

func TestMapTerminalError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{model.NewPaymentNotFoundError("x"), http.StatusNotFound},
		{model.NewInvalidTransitionError(model.StatusFailed, model.StatusCompleted), http.StatusConflict},
		{model.NewTransactionAlreadyBoundError("TX1"), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		got, _ := mapTerminalError(tt.err)
		assert.Equal(t, tt.code, got, tt.err.Error())
	}
}

// =====================================================
// REPORTS
// =====================================================

func TestExportCommissions_StreamsWorkbook(t *testing.T) {
	f := newFixture()
	req := model.CommissionReportRequest{From: "2026-05-01", To: "2026-05-31"}
	f.reports.On("ExportCommissions", mock.Anything, req).Return(excelize.NewFile(), nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/terminal/reports/commissions?from=2026-05-01&to=2026-05-31", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "commissions_2026-05-01_2026-05-31.xlsx")
	// xlsx is a zip archive
	assert.True(t, strings.HasPrefix(w.Body.String(), "PK"))
}

func TestExportCommissions_MissingRange(t *testing.T) {
	f := newFixture()

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/terminal/reports/commissions?from=2026-05-01", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.reports.AssertNotCalled(t, "ExportCommissions", mock.Anything, mock.Anything)
}

func TestExportCommissions_InvalidRange(t *testing.T) {
	f := newFixture()
	req := model.CommissionReportRequest{From: "2026-05-31", To: "2026-05-01"}
	f.reports.On("ExportCommissions", mock.Anything, req).
		Return(nil, model.NewValidationError(errors.New("to: must not be before from.")))

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/terminal/reports/commissions?from=2026-05-31&to=2026-05-01", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

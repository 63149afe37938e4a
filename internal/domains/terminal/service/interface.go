package service

import (
	"context"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/store"
	"terminal-payment-backend/internal/shared"
)

// =====================================================
// SESSION SERVICE INTERFACE
// =====================================================
type SessionService interface {
	// Start creates the pending payment, pushes it to the terminal and
	// stores the live session. No session exists when the gateway fails.
	Start(ctx context.Context, req model.StartPaymentRequest) (*model.StartPaymentResponse, error)

	// Get returns the live session by invoice number or payment id
	Get(ctx context.Context, key string) (*model.PaymentSession, error)

	// Cancel aborts a pending session at the terminal
	Cancel(ctx context.Context, key string, req model.CancelPaymentRequest) (*model.CancelPaymentResponse, error)
}

// =====================================================
// RESOLVER SERVICE INTERFACE
// =====================================================
type ResolverService interface {
	// Resolve answers a poll from the cheapest source that knows a terminal
	// status: session, webhook cache, live gateway, invoice fallback.
	Resolve(ctx context.Context, key string) (*model.ResolveResult, error)

	// ReconcilePending re-queries stale pending payments at the gateway
	ReconcilePending(ctx context.Context, limit int) (*ReconcileSummary, error)
}

type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Errors    int `json:"errors"`
}

// =====================================================
// WEBHOOK SERVICE INTERFACE
// =====================================================
type WebhookService interface {
	// Receive verifies, classifies and caches one delivery. It returns as
	// soon as the cache is updated; attribution happens in Enrich.
	Receive(ctx context.Context, delivery WebhookDelivery) (*WebhookAck, error)

	// Enrich attributes a classified delivery to a payment and dispatches
	// settlement or failure. Runs on the worker.
	Enrich(ctx context.Context, payload shared.EnrichWebhookPayload) error

	// LastCompleted returns the operator marker; false once it expired
	LastCompleted(ctx context.Context) (*model.LastCompletedMarker, bool, error)
}

type WebhookDelivery struct {
	RawBody    []byte
	Headers    http.Header
	SourceIP   string
	ReceivedAt time.Time

	// SkipSignature is set by the non-production simulate endpoint only
	SkipSignature bool
}

type WebhookAck struct {
	Classification string              `json:"classification"`
	Status         string              `json:"status"`
	TransactionID  string              `json:"transactionId,omitempty"`
	InvoiceNumber  string              `json:"invoiceNumber,omitempty"`
	Outcome        store.RecordOutcome `json:"outcome,omitempty"`
}

// =====================================================
// SETTLEMENT SERVICE INTERFACE
// =====================================================
type SettlementService interface {
	// Complete flips the payment to completed once and runs the
	// best-effort side effects. A second call reports AlreadyCompleted.
	Complete(ctx context.Context, req model.CompleteRequest) (*model.SettlementResult, error)

	// CompleteByInvoice resolves the invoice (and its transaction id) first
	CompleteByInvoice(ctx context.Context, req model.CompleteByInvoiceRequest) (*model.SettlementResult, error)

	// Fail flips a pending payment to failed; calling it again is a no-op
	Fail(ctx context.Context, req model.FailRequest) (*model.SettlementResult, error)
}

// =====================================================
// REPORT SERVICE INTERFACE
// =====================================================
type ReportService interface {
	// ExportCommissions builds an xlsx workbook of the commissions recorded
	// in the requested day range, plus a per-staff totals sheet
	ExportCommissions(ctx context.Context, req model.CommissionReportRequest) (*excelize.File, error)
}

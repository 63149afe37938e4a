package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =====================================================
// PAYMENT SESSION (live, in the session store)
// =====================================================

// PaymentSession tracks one terminal transaction while a client polls it.
// Key is the invoice number; the payment id is an alias.
type PaymentSession struct {
	Key                   string          `json:"key"`
	PaymentID             uuid.UUID       `json:"paymentId"`
	InvoiceNumber         string          `json:"invoiceNumber"`
	LocationID            string          `json:"locationId"`
	OrderID               *uuid.UUID      `json:"orderId,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	TipAmount             decimal.Decimal `json:"tipAmount"`
	Description           string          `json:"description,omitempty"`
	ExternalTransactionID string          `json:"externalTransactionId,omitempty"`
	Status                string          `json:"status"`
	Last4                 string          `json:"last4,omitempty"`
	StartedAt             time.Time       `json:"startedAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

func (s *PaymentSession) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// Clone returns a copy that callers may mutate without touching the store
func (s *PaymentSession) Clone() *PaymentSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.OrderID != nil {
		id := *s.OrderID
		c.OrderID = &id
	}
	return &c
}

// =====================================================
// WEBHOOK RECORD (short-lived, in the webhook cache)
// =====================================================

type WebhookRecord struct {
	TransactionID string           `json:"transactionId,omitempty"`
	InvoiceNumber string           `json:"invoiceNumber,omitempty"`
	Status        string           `json:"status"`
	Last4         string           `json:"last4,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	TipAmount     *decimal.Decimal `json:"tipAmount,omitempty"`
	BaseAmount    *decimal.Decimal `json:"baseAmount,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// CacheKey is the transaction id, or the invoice when the payload had none
func (r *WebhookRecord) CacheKey() string {
	if r.TransactionID != "" {
		return r.TransactionID
	}
	if r.InvoiceNumber != "" {
		return "invoice:" + r.InvoiceNumber
	}
	return ""
}

func (r *WebhookRecord) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// LastCompletedMarker is the most recent terminal webhook that carried a
// transaction id. Operators read it; matching never uses it.
type LastCompletedMarker struct {
	TransactionID string           `json:"transactionId"`
	InvoiceNumber string           `json:"invoiceNumber,omitempty"`
	Status        string           `json:"status"`
	Last4         string           `json:"last4,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	RecordedAt    time.Time        `json:"recordedAt"`
}

// =====================================================
// PERSISTED ENTITIES
// =====================================================

type TerminalPayment struct {
	ID                    uuid.UUID       `json:"id" db:"id"`
	InvoiceNumber         string          `json:"invoice_number" db:"invoice_number"`
	LocationID            string          `json:"location_id" db:"location_id"`
	OrderID               *uuid.UUID      `json:"order_id,omitempty" db:"order_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	TipAmount             decimal.Decimal `json:"tip_amount" db:"tip_amount"`
	Description           string          `json:"description" db:"description"`
	Status                string          `json:"status" db:"status"`
	ExternalTransactionID *string         `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	CardLast4             *string         `json:"card_last4,omitempty" db:"card_last4"`
	FailureReason         *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

func (p *TerminalPayment) IsTerminal() bool {
	return IsTerminalStatus(p.Status)
}

// Appointment is the order record a terminal payment settles
type Appointment struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	StaffID         *uuid.UUID `json:"staff_id,omitempty" db:"staff_id"`
	ServiceName     string     `json:"service_name" db:"service_name"`
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	ClientPhone     *string    `json:"client_phone,omitempty" db:"client_phone"`
	PaymentStatus   string     `json:"payment_status" db:"payment_status"`
	PaymentID       *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	PaidAt          *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

type StaffRate struct {
	StaffID    uuid.UUID       `json:"staff_id" db:"staff_id"`
	RateType   string          `json:"rate_type" db:"rate_type"`
	FlatAmount decimal.Decimal `json:"flat_amount" db:"flat_amount"`
	Percentage decimal.Decimal `json:"percentage" db:"percentage"`
	HourlyRate decimal.Decimal `json:"hourly_rate" db:"hourly_rate"`
}

type Commission struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	PaymentID        uuid.UUID       `json:"payment_id" db:"payment_id"`
	StaffID          uuid.UUID       `json:"staff_id" db:"staff_id"`
	RateType         string          `json:"rate_type" db:"rate_type"`
	BaseAmount       decimal.Decimal `json:"base_amount" db:"base_amount"`
	TipAmount        decimal.Decimal `json:"tip_amount" db:"tip_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount" db:"commission_amount"`
	TotalEarnings    decimal.Decimal `json:"total_earnings" db:"total_earnings"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// WebhookLog is the audit row written for every delivery
type WebhookLog struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	RawBody         string            `json:"raw_body" db:"raw_body"`
	Headers         map[string]string `json:"headers" db:"headers"`
	SourceIP        string            `json:"source_ip" db:"source_ip"`
	TransactionID   *string           `json:"transaction_id,omitempty" db:"transaction_id"`
	InvoiceNumber   *string           `json:"invoice_number,omitempty" db:"invoice_number"`
	Classification  string            `json:"classification" db:"classification"`
	SignatureValid  *bool             `json:"signature_valid,omitempty" db:"signature_valid"`
	Processed       bool              `json:"processed" db:"processed"`
	ProcessingError *string           `json:"processing_error,omitempty" db:"processing_error"`
	ReceivedAt      time.Time         `json:"received_at" db:"received_at"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
}

// =====================================================
// HELPERS
// =====================================================

// NewInvoiceNumber renders INV-<yyyymmddHHMMSS>-<6 hex>
func NewInvoiceNumber(now time.Time) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return InvoicePrefix + now.UTC().Format("20060102150405") + "-" + strings.ToUpper(hex.EncodeToString(buf))
}

// IsInvoiceKey reports keys shaped like an invoice number
func IsInvoiceKey(key string) bool {
	return strings.HasPrefix(key, InvoicePrefix)
}

package model

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =====================================================
// START PAYMENT
// =====================================================

type StartPaymentRequest struct {
	LocationID  string           `json:"locationId" binding:"required"`
	Amount      decimal.Decimal  `json:"amount" binding:"required"`
	TipAmount   *decimal.Decimal `json:"tipAmount,omitempty"`
	Description string           `json:"description,omitempty"`
	OrderID     *uuid.UUID       `json:"orderId,omitempty"`
}

func (r StartPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.LocationID,
			validation.Required.Error("locationId is required"),
			validation.Length(1, 64),
		),
		validation.Field(&r.Amount, validation.By(positiveAmount)),
		validation.Field(&r.TipAmount, validation.By(func(value interface{}) error {
			tip, _ := value.(*decimal.Decimal)
			if tip == nil {
				return nil
			}
			if tip.IsNegative() {
				return errors.New("tipAmount must not be negative")
			}
			if tip.GreaterThan(r.Amount) {
				return errors.New("tipAmount must not exceed amount")
			}
			return nil
		})),
		validation.Field(&r.Description, validation.Length(0, 255)),
	)
}

// Tip returns zero when no tip was sent
func (r StartPaymentRequest) Tip() decimal.Decimal {
	if r.TipAmount == nil {
		return decimal.Zero
	}
	return *r.TipAmount
}

type StartPaymentResponse struct {
	TransactionID string    `json:"transactionId,omitempty"`
	InvoiceNumber string    `json:"invoiceNumber"`
	PaymentID     uuid.UUID `json:"paymentId"`
	Status        string    `json:"status"`
}

// =====================================================
// POLL
// =====================================================

// ResolveResult is what the poller sees. Source is diagnostic only.
type ResolveResult struct {
	Status        string           `json:"status"`
	TransactionID string           `json:"transactionId,omitempty"`
	Last4         string           `json:"last4,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	TipAmount     *decimal.Decimal `json:"tipAmount,omitempty"`
	BaseAmount    *decimal.Decimal `json:"baseAmount,omitempty"`
	Source        string           `json:"source"`
}

// =====================================================
// CANCEL
// =====================================================

type CancelPaymentRequest struct {
	LocationID string `json:"locationId" binding:"required"`
}

func (r CancelPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.LocationID, validation.Required.Error("locationId is required")),
	)
}

type CancelPaymentResponse struct {
	Success bool `json:"success"`
}

// =====================================================
// SETTLEMENT
// =====================================================

type CompleteRequest struct {
	TransactionID string     `json:"transactionId" binding:"required"`
	PaymentID     *uuid.UUID `json:"paymentId,omitempty"`
	OrderID       *uuid.UUID `json:"orderId,omitempty"`
}

func (r CompleteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TransactionID,
			validation.When(r.PaymentID == nil, validation.Required.Error("transactionId is required")),
			validation.Length(1, 128),
		),
	)
}

type CompleteByInvoiceRequest struct {
	InvoiceNumber string `json:"invoiceNumber" binding:"required"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (r CompleteByInvoiceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.InvoiceNumber,
			validation.Required.Error("invoiceNumber is required"),
			validation.By(func(value interface{}) error {
				if s, _ := value.(string); !strings.HasPrefix(s, InvoicePrefix) {
					return errors.New("invoiceNumber must start with " + InvoicePrefix)
				}
				return nil
			}),
		),
		validation.Field(&r.TransactionID, validation.Length(0, 128)),
	)
}

type SettlementResult struct {
	PaymentID          uuid.UUID `json:"paymentId"`
	InvoiceNumber      string    `json:"invoiceNumber"`
	TransactionID      string    `json:"transactionId"`
	Status             string    `json:"status"`
	AlreadyCompleted   bool      `json:"alreadyCompleted"`
	AppointmentUpdated bool      `json:"appointmentUpdated"`
	CommissionRecorded bool      `json:"commissionRecorded"`
	EventPublished     bool      `json:"eventPublished"`
}

// FailRequest is built by the worker, never bound from HTTP
type FailRequest struct {
	PaymentID     uuid.UUID
	TransactionID string
	Reason        string
}

// =====================================================
// COMMISSION REPORT
// =====================================================

const (
	ReportDateLayout = "2006-01-02"
	MaxReportDays    = 93
)

// CommissionReportRequest selects commissions by UTC calendar day, both ends
// inclusive
type CommissionReportRequest struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

func (r CommissionReportRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.From, validation.Required, validation.Date(ReportDateLayout)),
		validation.Field(&r.To, validation.Required, validation.Date(ReportDateLayout)),
	)
	if err != nil {
		return err
	}

	from, to := r.Range()
	if !to.After(from) {
		return validation.Errors{"to": errors.New("must not be before from")}
	}
	if to.Sub(from) > MaxReportDays*24*time.Hour {
		return validation.Errors{"to": errors.New("range must not exceed 93 days")}
	}
	return nil
}

// Range returns [from 00:00, day after to 00:00). Call after Validate.
func (r CommissionReportRequest) Range() (time.Time, time.Time) {
	from, _ := time.Parse(ReportDateLayout, r.From)
	to, _ := time.Parse(ReportDateLayout, r.To)
	return from, to.AddDate(0, 0, 1)
}

// CommissionReportRow is one commission joined with its payment
type CommissionReportRow struct {
	Commission
	InvoiceNumber string `json:"invoice_number" db:"invoice_number"`
	TransactionID string `json:"transaction_id" db:"external_transaction_id"`
}

func positiveAmount(value interface{}) error {
	amount, _ := value.(decimal.Decimal)
	if !amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

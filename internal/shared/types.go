package shared

import "time"

// Queue names. The terminal queue carries latency sensitive settlement
// work and gets the highest weight in the asynq servers.
const (
	QueueTerminal   = "terminal"
	QueueAutomation = "automation"
	QueueDefault    = "default"
)

// Task types
const (
	TypeEnrichWebhook     = "terminal:enrich_webhook"
	TypeSettlePayment     = "terminal:settle_payment"
	TypeFailPayment       = "terminal:fail_payment"
	TypeReconcilePending  = "terminal:reconcile_pending"
	TypePaymentAutomation = "automation:payment_completed"
)

// EnrichWebhookPayload is the classified webhook handed off to the worker
// after the gateway has been acknowledged.
type EnrichWebhookPayload struct {
	TransactionID string    `json:"transactionId,omitempty"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	Status        string    `json:"status"`
	Last4         string    `json:"last4,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	TipAmount     string    `json:"tipAmount,omitempty"`
	BaseAmount    string    `json:"baseAmount,omitempty"`
	WebhookLogID  string    `json:"webhookLogId,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// SettlePaymentPayload asks the worker to run Complete for a payment
type SettlePaymentPayload struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
	Source        string `json:"source"`
}

// FailPaymentPayload asks the worker to flip a pending payment to failed
type FailPaymentPayload struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason"`
}

// ReconcilePendingPayload is the scheduled sweep payload
type ReconcilePendingPayload struct {
	Limit int `json:"limit"`
}

// PaymentCompletedEvent is published exactly once per settled payment
type PaymentCompletedEvent struct {
	PaymentID     string    `json:"paymentId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	TransactionID string    `json:"transactionId"`
	LocationID    string    `json:"locationId"`
	OrderID       string    `json:"orderId,omitempty"`
	StaffID       string    `json:"staffId,omitempty"`
	ClientPhone   string    `json:"clientPhone,omitempty"`
	Amount        string    `json:"amount"`
	TipAmount     string    `json:"tipAmount"`
	CardLast4     string    `json:"cardLast4,omitempty"`
	CompletedAt   time.Time `json:"completedAt"`
}

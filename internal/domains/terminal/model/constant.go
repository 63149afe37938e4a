package model

// =====================================================
// PAYMENT STATUS
// =====================================================
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether status can never change again
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// =====================================================
// APPOINTMENT PAYMENT STATUS
// =====================================================
const (
	OrderPaymentUnpaid = "unpaid"
	OrderPaymentPaid   = "paid"
)

// =====================================================
// COMMISSION RATE TYPES
// =====================================================
const (
	RateTypeFlat       = "flat"
	RateTypePercentage = "percentage"
	RateTypeTimeBased  = "time_based"
	RateTypeHybrid     = "hybrid"
)

// =====================================================
// RESOLUTION SOURCES
// =====================================================

// Source tells the poller which tier produced an answer
const (
	SourceSession   = "session"
	SourcePersisted = "persisted"
	SourceWebhook   = "webhook"
	SourceGateway   = "gateway"
	SourceFallback  = "fallback"
	SourceNone      = "none"
)

// =====================================================
// WEBHOOK CLASSIFICATION OUTCOMES
// =====================================================
const (
	ClassificationCompleted = "completed"
	ClassificationFailed    = "failed"
	ClassificationAmbiguous = "ambiguous"
	ClassificationMalformed = "malformed"
	ClassificationRejected  = "rejected"
)

// =====================================================
// FAILURE REASONS
// =====================================================
const (
	FailureGatewayUnavailable = "gateway_unavailable"
	FailureDeclined           = "declined"
	FailureReconcileTimeout   = "reconcile_timeout"
	// FailureCancelled settles the row as cancelled instead of failed
	FailureCancelled = "cancelled"
)

// InvoicePrefix marks keys that are invoice numbers rather than payment ids
const InvoicePrefix = "INV-"

// =====================================================
// INTERNAL ERROR CODES
// =====================================================
const (
	ErrCodeGatewayUnavailable      = "TRM001"
	ErrCodeSessionNotFound         = "TRM002"
	ErrCodeSessionNotCancellable   = "TRM003"
	ErrCodePaymentNotFound         = "TRM004"
	ErrCodeInvalidTransition       = "TRM005"
	ErrCodeTransactionAlreadyBound = "TRM006"
	ErrCodeInvalidSignature        = "TRM007"
	ErrCodeMissingSignature        = "TRM008"
	ErrCodeMalformedWebhook        = "TRM009"
	ErrCodeValidation              = "TRM010"
	ErrCodeInternal                = "TRM011"
)

package model

import (
	"errors"
	"fmt"
)

// =====================================================
// PREDEFINED ERRORS
// =====================================================

var (
	ErrGatewayUnavailable      = errors.New("terminal gateway unavailable")
	ErrSessionNotFound         = errors.New("payment session not found")
	ErrSessionNotCancellable   = errors.New("payment session is not cancellable")
	ErrPaymentNotFound         = errors.New("terminal payment not found")
	ErrInvalidTransition       = errors.New("invalid payment status transition")
	ErrTransactionAlreadyBound = errors.New("transaction id already bound to another session")
	ErrInvalidSignature        = errors.New("invalid webhook signature")
	ErrMissingSignature        = errors.New("missing webhook signature")
	ErrMalformedWebhook        = errors.New("malformed webhook payload")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrStaffRateNotFound       = errors.New("staff rate not found")
)

// =====================================================
// CUSTOM TERMINAL ERROR
// =====================================================

type TerminalError struct {
	Code    string
	Message string
	Err     error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

func NewTerminalError(code, message string, err error) *TerminalError {
	return &TerminalError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// =====================================================
// ERROR CONSTRUCTORS
// =====================================================

// NewGatewayUnavailableError keeps the adapter failure in the chain for logs
func NewGatewayUnavailableError(op string, cause error) *TerminalError {
	return NewTerminalError(
		ErrCodeGatewayUnavailable,
		fmt.Sprintf("Terminal gateway unavailable during %s", op),
		fmt.Errorf("%w: %v", ErrGatewayUnavailable, cause),
	)
}

func NewSessionNotFoundError(key string) *TerminalError {
	return NewTerminalError(
		ErrCodeSessionNotFound,
		fmt.Sprintf("Payment session not found: %s", key),
		ErrSessionNotFound,
	)
}

func NewSessionNotCancellableError(status string) *TerminalError {
	return NewTerminalError(
		ErrCodeSessionNotCancellable,
		fmt.Sprintf("Only pending sessions can be cancelled, current status: %s", status),
		ErrSessionNotCancellable,
	)
}

func NewPaymentNotFoundError(ref string) *TerminalError {
	return NewTerminalError(
		ErrCodePaymentNotFound,
		fmt.Sprintf("Terminal payment not found: %s", ref),
		ErrPaymentNotFound,
	)
}

func NewInvalidTransitionError(from, to string) *TerminalError {
	return NewTerminalError(
		ErrCodeInvalidTransition,
		fmt.Sprintf("Cannot move payment from %s to %s", from, to),
		ErrInvalidTransition,
	)
}

func NewTransactionAlreadyBoundError(transactionID string) *TerminalError {
	return NewTerminalError(
		ErrCodeTransactionAlreadyBound,
		fmt.Sprintf("Transaction %s already belongs to another session", transactionID),
		ErrTransactionAlreadyBound,
	)
}

func NewValidationError(err error) *TerminalError {
	return NewTerminalError(ErrCodeValidation, "Invalid request", err)
}

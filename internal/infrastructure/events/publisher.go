package events

import (
	"context"

	"terminal-payment-backend/internal/shared"
)

// Publisher emits the payment.completed automation event. Settlement calls
// it at most once per payment; implementations must not block for long.
type Publisher interface {
	PublishPaymentCompleted(ctx context.Context, event shared.PaymentCompletedEvent) error
	Close() error
}

package job

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/infrastructure/sms"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/internal/shared/utils"
	"terminal-payment-backend/pkg/cache"
)

const receiptSentTTL = 7 * 24 * time.Hour

// PaymentAutomationHandler reacts to payment.completed. It is fed by the
// asynq automation queue or by the kafka consumer, both at least once, so
// the receipt is guarded by a per-payment marker.
type PaymentAutomationHandler struct {
	sender     sms.Sender
	markers    cache.Cache
	senderName string
}

func NewPaymentAutomationHandler(sender sms.Sender, markers cache.Cache, senderName string) *PaymentAutomationHandler {
	return &PaymentAutomationHandler{sender: sender, markers: markers, senderName: senderName}
}

func (h *PaymentAutomationHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var event shared.PaymentCompletedEvent
	if err := utils.UnmarshalTask(task, &event); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return h.Handle(ctx, event)
}

// Handle sends the receipt SMS once per payment
func (h *PaymentAutomationHandler) Handle(ctx context.Context, event shared.PaymentCompletedEvent) error {
	if event.ClientPhone == "" {
		log.Debug().Str("payment_id", event.PaymentID).Msg("[AUTOMATION] No client phone, receipt skipped")
		return nil
	}

	key := "automation:receipt:" + event.PaymentID
	claimed, err := h.markers.SetNX(ctx, key, time.Now().UTC(), receiptSentTTL)
	if err != nil {
		return fmt.Errorf("claim receipt marker: %w", err)
	}
	if !claimed {
		log.Info().Str("payment_id", event.PaymentID).Msg("[AUTOMATION] Receipt already sent")
		return nil
	}

	messageID, err := h.sender.SendSMS(ctx, event.ClientPhone, receiptText(h.senderName, event))
	if err != nil {
		// release the claim so the retry can send
		if delErr := h.markers.Delete(ctx, key); delErr != nil {
			log.Warn().Err(delErr).Str("payment_id", event.PaymentID).Msg("[AUTOMATION] Failed to release receipt marker")
		}
		return fmt.Errorf("send receipt: %w", err)
	}

	log.Info().
		Str("payment_id", event.PaymentID).
		Str("message_id", messageID).
		Msg("[AUTOMATION] Receipt sent")
	return nil
}

func receiptText(senderName string, event shared.PaymentCompletedEvent) string {
	text := fmt.Sprintf("%s: payment of $%s received", senderName, event.Amount)
	if event.CardLast4 != "" {
		text += " on card ending " + event.CardLast4
	}
	return text + ". Ref " + event.InvoiceNumber + ". Thank you!"
}

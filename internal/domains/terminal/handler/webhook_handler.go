package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared/middleware"
)

// maxWebhookBody caps what a delivery may send
const maxWebhookBody = 1 << 20

// WebhookHandler speaks the gateway's flat JSON, not the response envelope
type WebhookHandler struct {
	webhooks service.WebhookService
}

func NewWebhookHandler(webhooks service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Validate answers the gateway's URL check
// GET /api/v1/webhooks/helcim
func (h *WebhookHandler) Validate(c *gin.Context) {
	log.Info().Str("source_ip", c.ClientIP()).Msg("[WEBHOOK] Validation request")
	c.JSON(http.StatusOK, gin.H{
		"status":   "validation_successful",
		"message":  "Webhook endpoint is ready to receive Helcim notifications",
		"endpoint": "/webhooks/helcim",
	})
}

// LegacyStatus keeps the old singular path reporting healthy
// GET /webhook/helcim
func (h *WebhookHandler) LegacyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "active",
		"endpoint": "/webhook/helcim",
		"message":  "Legacy Helcim webhook endpoint is ready",
	})
}

// Receive handles a signed delivery
// POST /api/v1/webhooks/helcim (and the legacy POST /webhook/helcim)
func (h *WebhookHandler) Receive(c *gin.Context) {
	h.receive(c, false)
}

// Simulate accepts unsigned deliveries; registered outside production only
// POST /api/v1/webhooks/helcim/simulate
func (h *WebhookHandler) Simulate(c *gin.Context) {
	h.receive(c, true)
}

func (h *WebhookHandler) receive(c *gin.Context, skipSignature bool) {
	// Step 1: Read the raw body; the signature covers the exact bytes
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "error", "message": "Payload too large"})
		return
	}

	sourceIP := middleware.ClientIPFromContext(c.Request.Context())
	if sourceIP == "" {
		sourceIP = c.ClientIP()
	}

	// Step 2: Verify, classify and cache
	ack, err := h.webhooks.Receive(c.Request.Context(), service.WebhookDelivery{
		RawBody:       body,
		Headers:       c.Request.Header,
		SourceIP:      sourceIP,
		ReceivedAt:    time.Now(),
		SkipSignature: skipSignature,
	})
	if err != nil {
		statusCode, errCode := mapTerminalError(err)
		message := "Webhook processing failed"
		var te *model.TerminalError
		if errors.As(err, &te) && statusCode != http.StatusInternalServerError {
			message = te.Message
		}
		c.JSON(statusCode, gin.H{"status": "error", "code": errCode, "message": message})
		return
	}

	// Step 3: Acknowledge fast; attribution runs on the worker
	c.JSON(http.StatusOK, gin.H{
		"status":         "received",
		"classification": ack.Classification,
		"paymentStatus":  ack.Status,
		"transactionId":  ack.TransactionID,
		"invoiceNumber":  ack.InvoiceNumber,
	})
}

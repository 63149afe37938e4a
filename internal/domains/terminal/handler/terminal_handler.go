package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared/response"
)

type TerminalHandler struct {
	sessions   service.SessionService
	resolver   service.ResolverService
	settlement service.SettlementService
	webhooks   service.WebhookService
}

func NewTerminalHandler(
	sessions service.SessionService,
	resolver service.ResolverService,
	settlement service.SettlementService,
	webhooks service.WebhookService,
) *TerminalHandler {
	return &TerminalHandler{
		sessions:   sessions,
		resolver:   resolver,
		settlement: settlement,
		webhooks:   webhooks,
	}
}

// =====================================================
// SESSION ENDPOINTS
// =====================================================

// StartPayment pushes a purchase to the terminal
// POST /api/v1/terminal/payments
func (h *TerminalHandler) StartPayment(c *gin.Context) {
	// Step 1: Bind request body
	var req model.StartPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// Step 2: Call service (validates)
	resp, err := h.sessions.Start(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, resp)
}

// GetPaymentStatus answers a poll by invoice number or payment id
// GET /api/v1/terminal/payments/:key
func (h *TerminalHandler) GetPaymentStatus(c *gin.Context) {
	result, err := h.resolver.Resolve(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// CancelPayment aborts a pending terminal prompt
// POST /api/v1/terminal/payments/:key/cancel
func (h *TerminalHandler) CancelPayment(c *gin.Context) {
	var req model.CancelPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.sessions.Cancel(c.Request.Context(), c.Param("key"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resp)
}

// =====================================================
// SETTLEMENT ENDPOINTS (staff)
// =====================================================

// CompletePayment settles a payment by transaction id
// POST /api/v1/terminal/payments/complete
func (h *TerminalHandler) CompletePayment(c *gin.Context) {
	var req model.CompleteRequest
	if err := bindJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.settlement.Complete(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// CompleteByInvoice settles a payment by invoice number
// POST /api/v1/terminal/payments/complete-by-invoice
func (h *TerminalHandler) CompleteByInvoice(c *gin.Context) {
	var req model.CompleteByInvoiceRequest
	if err := bindJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.settlement.CompleteByInvoice(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// =====================================================
// OPERATOR ENDPOINTS
// =====================================================

// LastCompletedWebhook returns the most recent terminal webhook while it is fresh
// GET /api/v1/terminal/webhooks/last
func (h *TerminalHandler) LastCompletedWebhook(c *gin.Context) {
	marker, ok, err := h.webhooks.LastCompleted(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		response.NotFound(c, "No recent completed webhook")
		return
	}

	response.Success(c, http.StatusOK, marker)
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-payment-backend/internal/domains/terminal/model"
)

func TestSessionService_Start(t *testing.T) {
	h := newHarness(t)
	h.gateway.SetStartTransactionID("TX1")

	resp := h.start(t, "50.00")

	assert.True(t, model.IsInvoiceKey(resp.InvoiceNumber))
	assert.Equal(t, "TX1", resp.TransactionID)
	assert.Equal(t, model.StatusPending, resp.Status)

	byInvoice, err := h.sessionSvc.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	byID, err := h.sessionSvc.Get(context.Background(), resp.PaymentID.String())
	require.NoError(t, err)
	assert.Equal(t, byInvoice.InvoiceNumber, byID.InvoiceNumber)
	assert.Equal(t, "L1", byInvoice.LocationID)
	assert.True(t, decimal.RequireFromString("50").Equal(byInvoice.Amount))

	payment, err := h.payments.GetByID(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, payment.Status)
	assert.Equal(t, "TX1", *payment.ExternalTransactionID)

	starts := h.gateway.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, resp.InvoiceNumber, starts[0].InvoiceNumber)
}

func TestSessionService_StartGatewayFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t)
	h.gateway.SetFailStart(true)

	_, err := h.sessionSvc.Start(context.Background(), model.StartPaymentRequest{
		LocationID: "L1",
		Amount:     decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrGatewayUnavailable))

	var te *model.TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.ErrCodeGatewayUnavailable, te.Code)

	invoice := h.gateway.Starts()[0].InvoiceNumber
	_, err = h.sessions.Get(context.Background(), invoice)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	payment, err := h.payments.GetByInvoice(context.Background(), invoice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, payment.Status)
	assert.Equal(t, model.FailureGatewayUnavailable, *payment.FailureReason)
}

func TestSessionService_StartValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  model.StartPaymentRequest
	}{
		{"zero amount", model.StartPaymentRequest{LocationID: "L1", Amount: decimal.Zero}},
		{"missing location", model.StartPaymentRequest{Amount: decimal.NewFromInt(10)}},
		{"tip above amount", model.StartPaymentRequest{LocationID: "L1", Amount: decimal.NewFromInt(10), TipAmount: decimalPtr("11")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.sessionSvc.Start(context.Background(), tt.req)
			var te *model.TerminalError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, model.ErrCodeValidation, te.Code)
		})
	}
	assert.Empty(t, h.gateway.Starts())
}

func TestSessionService_Cancel(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")

	out, err := h.sessionSvc.Cancel(context.Background(), resp.InvoiceNumber, model.CancelPaymentRequest{LocationID: "L1"})
	require.NoError(t, err)
	assert.True(t, out.Success)

	// no transaction bound yet, so the invoice is the cancel reference
	assert.Equal(t, []string{resp.InvoiceNumber}, h.gateway.Cancels())

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, session.Status)
	assert.Equal(t, model.StatusCancelled, h.payments.status(resp.PaymentID))
}

func TestSessionService_CancelCompletedIsRejected(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")

	_, err := h.sessions.Update(context.Background(), resp.InvoiceNumber, func(p *model.PaymentSession) error {
		p.Status = model.StatusCompleted
		return nil
	})
	require.NoError(t, err)

	_, err = h.sessionSvc.Cancel(context.Background(), resp.InvoiceNumber, model.CancelPaymentRequest{LocationID: "L1"})
	assert.ErrorIs(t, err, model.ErrSessionNotCancellable)
	assert.Empty(t, h.gateway.Cancels())
}

func TestSessionService_CancelNotAcknowledged(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")
	h.gateway.SetCancelResult(false, false)

	out, err := h.sessionSvc.Cancel(context.Background(), resp.InvoiceNumber, model.CancelPaymentRequest{LocationID: "L1"})
	require.NoError(t, err)
	assert.False(t, out.Success)

	session, err := h.sessions.Get(context.Background(), resp.InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, session.Status)
}

func TestSessionService_CancelGatewayError(t *testing.T) {
	h := newHarness(t)
	resp := h.start(t, "50.00")
	h.gateway.SetCancelResult(false, true)

	_, err := h.sessionSvc.Cancel(context.Background(), resp.InvoiceNumber, model.CancelPaymentRequest{LocationID: "L1"})
	assert.ErrorIs(t, err, model.ErrGatewayUnavailable)
}

func TestSessionService_GetUnknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.sessionSvc.Get(context.Background(), "INV-missing")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

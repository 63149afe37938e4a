package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// =====================================================
// GATEWAY INTERFACE
// =====================================================

// TerminalGateway drives card-present transactions on a physical terminal.
// Transport failures come back wrapped in model.ErrGatewayUnavailable.
type TerminalGateway interface {
	// StartTransaction pushes a purchase to the terminal paired with the location
	StartTransaction(ctx context.Context, req StartTransactionRequest) (*StartTransactionResponse, error)

	// QueryStatus asks the gateway for the current status of an invoice or transaction
	QueryStatus(ctx context.Context, locationID, idOrTransactionID string) (*StatusResponse, error)

	// Cancel aborts a pending terminal prompt; true means the gateway acknowledged it
	Cancel(ctx context.Context, locationID, idOrTransactionID string) (bool, error)
}

// =====================================================
// REQUEST/RESPONSE TYPES
// =====================================================

type StartTransactionRequest struct {
	LocationID    string
	InvoiceNumber string // also used as the idempotency key
	Amount        decimal.Decimal
	TipAmount     decimal.Decimal
	Description   string
}

type StartTransactionResponse struct {
	TransactionID string // empty when the gateway only acknowledges the push
	Status        string
}

type StatusResponse struct {
	Status        string // model.Status* value
	TransactionID string
	Last4         string
	Amount        *decimal.Decimal
	TipAmount     *decimal.Decimal
	BaseAmount    *decimal.Decimal
}

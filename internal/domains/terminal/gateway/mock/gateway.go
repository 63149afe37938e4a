package mock

import (
	"context"
	"fmt"
	"sync"

	"terminal-payment-backend/internal/domains/terminal/gateway"
	"terminal-payment-backend/internal/domains/terminal/model"
)

// =====================================================
// SCRIPTED TERMINAL GATEWAY (development and tests)
// =====================================================

// Gateway answers from a script. By default a start is accepted without a
// transaction id, every query is pending and every cancel is acknowledged.
type Gateway struct {
	mu sync.Mutex

	startTransactionID string
	startErr           error
	statuses           map[string]*gateway.StatusResponse
	queryErr           error
	cancelAck          bool
	cancelErr          error

	starts  []gateway.StartTransactionRequest
	queries []string
	cancels []string
}

func NewGateway() *Gateway {
	return &Gateway{
		statuses:  make(map[string]*gateway.StatusResponse),
		cancelAck: true,
	}
}

func (g *Gateway) StartTransaction(ctx context.Context, req gateway.StartTransactionRequest) (*gateway.StartTransactionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.starts = append(g.starts, req)
	if g.startErr != nil {
		return nil, model.NewGatewayUnavailableError("start", g.startErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, model.NewGatewayUnavailableError("start", err)
	}

	return &gateway.StartTransactionResponse{
		TransactionID: g.startTransactionID,
		Status:        model.StatusPending,
	}, nil
}

func (g *Gateway) QueryStatus(ctx context.Context, locationID, idOrTransactionID string) (*gateway.StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries = append(g.queries, idOrTransactionID)
	if g.queryErr != nil {
		return nil, model.NewGatewayUnavailableError("query", g.queryErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, model.NewGatewayUnavailableError("query", err)
	}

	if resp, ok := g.statuses[idOrTransactionID]; ok {
		copied := *resp
		return &copied, nil
	}
	return &gateway.StatusResponse{Status: model.StatusPending}, nil
}

func (g *Gateway) Cancel(ctx context.Context, locationID, idOrTransactionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancels = append(g.cancels, idOrTransactionID)
	if g.cancelErr != nil {
		return false, model.NewGatewayUnavailableError("cancel", g.cancelErr)
	}
	return g.cancelAck, nil
}

// =====================================================
// SCRIPTING
// =====================================================

// SetStartTransactionID makes the next starts return id
func (g *Gateway) SetStartTransactionID(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startTransactionID = id
}

// SetFailStart makes starts fail as if the gateway were unreachable
func (g *Gateway) SetFailStart(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startErr = nil
	if fail {
		g.startErr = fmt.Errorf("mock start failed")
	}
}

// SetStatus scripts the QueryStatus answer for an invoice or transaction id
func (g *Gateway) SetStatus(id string, resp gateway.StatusResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = &resp
}

func (g *Gateway) SetFailQuery(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryErr = nil
	if fail {
		g.queryErr = fmt.Errorf("mock query failed")
	}
}

func (g *Gateway) SetCancelResult(ack bool, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelAck = ack
	g.cancelErr = nil
	if fail {
		g.cancelErr = fmt.Errorf("mock cancel failed")
	}
}

// Starts returns the start requests seen so far
func (g *Gateway) Starts() []gateway.StartTransactionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.StartTransactionRequest(nil), g.starts...)
}

func (g *Gateway) Queries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

func (g *Gateway) Cancels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

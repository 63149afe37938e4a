package gateway

import (
	"context"
	"time"

	"terminal-payment-backend/internal/infrastructure/metrics"
)

type instrumented struct {
	next    TerminalGateway
	metrics *metrics.Metrics
}

// Instrument records call counts and latency for every adapter call
func Instrument(next TerminalGateway, m *metrics.Metrics) TerminalGateway {
	if m == nil {
		return next
	}
	return &instrumented{next: next, metrics: m}
}

func (g *instrumented) StartTransaction(ctx context.Context, req StartTransactionRequest) (*StartTransactionResponse, error) {
	start := time.Now()
	resp, err := g.next.StartTransaction(ctx, req)
	g.observe("start", start, err)
	return resp, err
}

func (g *instrumented) QueryStatus(ctx context.Context, locationID, idOrTransactionID string) (*StatusResponse, error) {
	start := time.Now()
	resp, err := g.next.QueryStatus(ctx, locationID, idOrTransactionID)
	g.observe("query_status", start, err)
	return resp, err
}

func (g *instrumented) Cancel(ctx context.Context, locationID, idOrTransactionID string) (bool, error) {
	start := time.Now()
	ok, err := g.next.Cancel(ctx, locationID, idOrTransactionID)
	g.observe("cancel", start, err)
	return ok, err
}

func (g *instrumented) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.GatewayCall(op, outcome, time.Since(start).Seconds())
}

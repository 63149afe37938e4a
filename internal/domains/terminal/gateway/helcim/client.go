package helcim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/classifier"
	"terminal-payment-backend/internal/domains/terminal/gateway"
	"terminal-payment-backend/internal/domains/terminal/model"
)

// =====================================================
// HELCIM SMART TERMINAL CLIENT
// =====================================================

type Client struct {
	config     *Config
	httpClient *http.Client
}

func NewClient(config *Config) (gateway.TerminalGateway, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Helcim config: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

type purchaseRequest struct {
	Currency          string `json:"currency"`
	TransactionAmount string `json:"transactionAmount"`
	InvoiceNumber     string `json:"invoiceNumber"`
	TipAmount         string `json:"tipAmount,omitempty"`
	Comments          string `json:"comments,omitempty"`
}

// StartTransaction pushes a purchase to the device. The terminal answers
// asynchronously, so a transaction id is returned only when the API has one.
func (c *Client) StartTransaction(ctx context.Context, req gateway.StartTransactionRequest) (*gateway.StartTransactionResponse, error) {
	device, err := c.config.deviceCode(req.LocationID)
	if err != nil {
		return nil, model.NewGatewayUnavailableError("start", err)
	}

	body := purchaseRequest{
		Currency:          c.config.Currency,
		TransactionAmount: req.Amount.StringFixed(2),
		InvoiceNumber:     req.InvoiceNumber,
		Comments:          req.Description,
	}
	if req.TipAmount.IsPositive() {
		body.TipAmount = req.TipAmount.StringFixed(2)
	}

	path := fmt.Sprintf("/devices/%s/payment/purchase", url.PathEscape(device))
	payload, status, err := c.do(ctx, http.MethodPost, path, body, req.InvoiceNumber)
	if err != nil {
		return nil, model.NewGatewayUnavailableError("start", err)
	}
	if status >= 300 {
		return nil, model.NewGatewayUnavailableError("start", fmt.Errorf("helcim responded %d: %s", status, truncate(payload)))
	}

	resp := &gateway.StartTransactionResponse{Status: model.StatusPending}
	if len(bytes.TrimSpace(payload)) > 0 {
		var decoded map[string]interface{}
		if err := decodeJSON(payload, &decoded); err == nil {
			resp.TransactionID = classifier.Classify(decoded).TransactionID
		}
	}

	log.Info().
		Str("invoice", req.InvoiceNumber).
		Str("device", device).
		Str("transaction_id", resp.TransactionID).
		Msg("[HELCIM] Purchase pushed to terminal")

	return resp, nil
}

// QueryStatus looks up by invoice for INV- keys, by transaction id otherwise
func (c *Client) QueryStatus(ctx context.Context, locationID, idOrTransactionID string) (*gateway.StatusResponse, error) {
	path := "/card-transactions/" + url.PathEscape(idOrTransactionID)
	if model.IsInvoiceKey(idOrTransactionID) {
		path = "/card-transactions?" + url.Values{"invoiceNumber": {idOrTransactionID}}.Encode()
	}

	payload, status, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, model.NewGatewayUnavailableError("query", err)
	}
	if status == http.StatusNotFound {
		return &gateway.StatusResponse{Status: model.StatusPending}, nil
	}
	if status >= 300 {
		return nil, model.NewGatewayUnavailableError("query", fmt.Errorf("helcim responded %d: %s", status, truncate(payload)))
	}

	txn, err := latestTransaction(payload)
	if err != nil {
		return nil, model.NewGatewayUnavailableError("query", err)
	}
	if txn == nil {
		return &gateway.StatusResponse{Status: model.StatusPending}, nil
	}

	cls := classifier.Classify(txn)
	return &gateway.StatusResponse{
		Status:        cls.Status,
		TransactionID: cls.TransactionID,
		Last4:         cls.Last4,
		Amount:        cls.Amount,
		TipAmount:     cls.TipAmount,
		BaseAmount:    cls.BaseAmount,
	}, nil
}

// Cancel clears the prompt on the device. 404 and 409 mean there was
// nothing left to cancel and are reported as not acknowledged.
func (c *Client) Cancel(ctx context.Context, locationID, idOrTransactionID string) (bool, error) {
	device, err := c.config.deviceCode(locationID)
	if err != nil {
		return false, model.NewGatewayUnavailableError("cancel", err)
	}

	path := fmt.Sprintf("/devices/%s/payment/cancel", url.PathEscape(device))
	payload, status, err := c.do(ctx, http.MethodPost, path, map[string]string{"invoiceNumber": idOrTransactionID}, "cancel-"+idOrTransactionID)
	if err != nil {
		return false, model.NewGatewayUnavailableError("cancel", err)
	}

	switch {
	case status < 300:
		return true, nil
	case status == http.StatusNotFound || status == http.StatusConflict:
		return false, nil
	default:
		return false, model.NewGatewayUnavailableError("cancel", fmt.Errorf("helcim responded %d: %s", status, truncate(payload)))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.APIURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("api-token", c.config.APIToken)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("idempotency-key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to call Helcim API: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return payload, resp.StatusCode, nil
}

// latestTransaction accepts either a single object or a list and returns
// the last element of the list
func latestTransaction(payload []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []map[string]interface{}
		if err := decodeJSON(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[len(list)-1], nil
	}

	var single map[string]interface{}
	if err := decodeJSON(trimmed, &single); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return single, nil
}

func decodeJSON(raw []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dest)
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}

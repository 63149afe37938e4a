// Package classifier turns loosely structured gateway webhook payloads into
// a canonical status. Extraction is an ordered list of rules evaluated
// against the decoded JSON map, so new payload shapes only add rules.
package classifier

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/shared/utils"
)

// Classification is the normalised view of one webhook delivery
type Classification struct {
	TransactionID string
	InvoiceNumber string
	Status        string
	Last4         string
	Amount        *decimal.Decimal
	TipAmount     *decimal.Decimal
	BaseAmount    *decimal.Decimal

	// Outcome is one of the model.Classification* values
	Outcome string
	// MatchedField names the field that decided the status, "" when ambiguous
	MatchedField string
}

// IsTerminal reports a completed or failed classification
func (c Classification) IsTerminal() bool {
	return model.IsTerminalStatus(c.Status)
}

// Record converts the classification into a cache record
func (c Classification) Record() *model.WebhookRecord {
	return &model.WebhookRecord{
		TransactionID: c.TransactionID,
		InvoiceNumber: c.InvoiceNumber,
		Status:        c.Status,
		Last4:         c.Last4,
		Amount:        c.Amount,
		TipAmount:     c.TipAmount,
		BaseAmount:    c.BaseAmount,
	}
}

var (
	transactionIDFields = []string{"id", "transactionId", "paymentId"}
	invoiceFields       = []string{"invoiceNumber", "invoice_number", "invoice"}
	statusFields        = []string{"status", "approved", "transactionStatus", "response"}
	last4Fields         = []string{"cardNumber", "last4", "cardLast4"}
	amountFields        = []string{"amount", "transactionAmount"}

	// nested objects some gateway versions wrap the transaction in
	nestedScopes = []string{"data", "transaction"}

	failureTokens = []string{"declined", "failed", "cancelled", "cancel", "voided", "refunded"}
	successTokens = []string{"approved", "completed", "success"}
)

type statusRule struct {
	status string
	match  func(value interface{}) bool
}

// statusRules run in order; every rule is tried against every status field
// before the next rule, so a failure signal anywhere beats a success signal.
var statusRules = []statusRule{
	{model.StatusFailed, isExplicitFalse},
	{model.StatusFailed, containsAny(failureTokens)},
	{model.StatusCompleted, isExplicitTrue},
	{model.StatusCompleted, containsAny(successTokens)},
}

// Classify never fails: unknown shapes come back pending and ambiguous
func Classify(payload map[string]interface{}) Classification {
	scopes := collectScopes(payload)

	c := Classification{
		TransactionID: firstString(scopes, transactionIDFields),
		InvoiceNumber: firstString(scopes, invoiceFields),
		Last4:         lastFour(firstString(scopes, last4Fields)),
		Amount:        firstDecimal(scopes, amountFields),
		TipAmount:     firstDecimal(scopes, []string{"tipAmount"}),
		BaseAmount:    firstDecimal(scopes, []string{"baseAmount"}),
		Status:        model.StatusPending,
		Outcome:       model.ClassificationAmbiguous,
	}

	for _, rule := range statusRules {
		if field, ok := matchStatus(scopes, rule); ok {
			c.Status = rule.status
			c.MatchedField = field
			c.Outcome = rule.status
			break
		}
	}

	return c
}

func matchStatus(scopes []map[string]interface{}, rule statusRule) (string, bool) {
	for _, scope := range scopes {
		for _, field := range statusFields {
			value, ok := lookup(scope, field)
			if !ok {
				continue
			}
			if rule.match(value) {
				return field, true
			}
		}
	}
	return "", false
}

func isExplicitFalse(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return !v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "false")
	}
	return false
}

func isExplicitTrue(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

func containsAny(tokens []string) func(interface{}) bool {
	return func(value interface{}) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		s = strings.ToLower(s)
		for _, token := range tokens {
			if strings.Contains(s, token) {
				return true
			}
		}
		return false
	}
}

func collectScopes(payload map[string]interface{}) []map[string]interface{} {
	scopes := []map[string]interface{}{payload}
	for _, name := range nestedScopes {
		if nested, ok := payload[name].(map[string]interface{}); ok {
			scopes = append(scopes, nested)
		}
	}
	return scopes
}

// lookup matches field names case-insensitively, exact match first
func lookup(scope map[string]interface{}, field string) (interface{}, bool) {
	if v, ok := scope[field]; ok && v != nil {
		return v, true
	}
	for k, v := range scope {
		if v != nil && strings.EqualFold(k, field) {
			return v, true
		}
	}
	return nil, false
}

func firstString(scopes []map[string]interface{}, fields []string) string {
	for _, scope := range scopes {
		for _, field := range fields {
			value, ok := lookup(scope, field)
			if !ok {
				continue
			}
			if s := stringify(value); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstDecimal(scopes []map[string]interface{}, fields []string) *decimal.Decimal {
	return utils.ParseDecimalPtr(firstString(scopes, fields))
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// lastFour keeps the trailing four digits of a masked card number
func lastFour(card string) string {
	digits := make([]byte, 0, len(card))
	for i := 0; i < len(card); i++ {
		if card[i] >= '0' && card[i] <= '9' {
			digits = append(digits, card[i])
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}

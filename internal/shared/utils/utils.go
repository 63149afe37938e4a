package utils

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func ParseStringToUUID(s string) uuid.UUID {
	uid, err := uuid.Parse(s)
	if err != nil || s == "" {
		return uuid.Nil
	}
	return uid
}

// ParseDecimalPtr returns nil for an empty or unparseable string
func ParseDecimalPtr(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// DecimalString renders an optional decimal, "" when nil
func DecimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// StringPtr returns nil for "", so optional text columns stay NULL
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for a nil pointer
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

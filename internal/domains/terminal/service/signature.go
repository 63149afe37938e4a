package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"terminal-payment-backend/internal/domains/terminal/model"
)

// signatureHeaders are probed in order; the first one present is used
var signatureHeaders = []string{
	"Webhook-Signature",
	"X-Helcim-Signature",
	"X-Webhook-Signature",
	"Authorization",
	"X-Authorization",
}

// signatureFromHeaders returns the first signature header, without any
// "Bearer " prefix, and "" when none is present
func signatureFromHeaders(h http.Header) string {
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
				v = strings.TrimSpace(v[7:])
			}
			return v
		}
	}
	return ""
}

// VerifySignature checks an HMAC-SHA256 of the raw body. The gateway may
// send the digest base64 or hex encoded.
func VerifySignature(secret string, body []byte, h http.Header) error {
	provided := signatureFromHeaders(h)
	if provided == "" {
		return model.NewTerminalError(model.ErrCodeMissingSignature, "Missing webhook signature", model.ErrMissingSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := base64.StdEncoding.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return nil
	}
	if decoded, err := hex.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return nil
	}

	return model.NewTerminalError(model.ErrCodeInvalidSignature, "Invalid webhook signature", model.ErrInvalidSignature)
}

// headersOfInterest keeps the audit log free of credentials
func headersOfInterest(h http.Header) map[string]string {
	keep := []string{"Content-Type", "User-Agent", "X-Request-Id", "Webhook-Id", "Webhook-Timestamp"}
	out := make(map[string]string, len(keep)+1)
	for _, name := range keep {
		if v := h.Get(name); v != "" {
			out[strings.ToLower(name)] = v
		}
	}
	for _, name := range signatureHeaders {
		if h.Get(name) != "" {
			out["signature_header"] = strings.ToLower(name)
			break
		}
	}
	return out
}

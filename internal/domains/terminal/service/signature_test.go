package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"terminal-payment-backend/internal/domains/terminal/model"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"TX1","approved":true}`)

	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	b64 := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	hexSig := sign(body)

	tests := []struct {
		name    string
		header  string
		value   string
		wantErr error
	}{
		{"base64", "Webhook-Signature", b64, nil},
		{"hex", "X-Helcim-Signature", hexSig, nil},
		{"bearer prefix", "Authorization", "Bearer " + b64, nil},
		{"lowercase bearer", "X-Authorization", "bearer " + hexSig, nil},
		{"missing", "", "", model.ErrMissingSignature},
		{"wrong digest", "Webhook-Signature", sign([]byte("other")), model.ErrInvalidSignature},
		{"garbage", "X-Webhook-Signature", "not-a-signature", model.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set(tt.header, tt.value)
			}
			err := VerifySignature(testWebhookSecret, body, h)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignatureFromHeaders_Order(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer second")
	h.Set("Webhook-Signature", "first")

	assert.Equal(t, "first", signatureFromHeaders(h))
}

func TestHeadersOfInterest_DropsCredentials(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("User-Agent", "helcim-webhooks/1.0")

	got := headersOfInterest(h)
	assert.Equal(t, map[string]string{
		"user-agent":       "helcim-webhooks/1.0",
		"signature_header": "authorization",
	}, got)
}

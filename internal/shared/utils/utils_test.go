package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-payment-backend/internal/shared"
)

func TestParseDecimalPtr(t *testing.T) {
	assert.Nil(t, ParseDecimalPtr(""))
	assert.Nil(t, ParseDecimalPtr("abc"))

	d := ParseDecimalPtr(" 50.25 ")
	require.NotNil(t, d)
	assert.True(t, d.Equal(decimal.RequireFromString("50.25")))
	assert.Equal(t, "50.25", DecimalString(d))
	assert.Equal(t, "", DecimalString(nil))
}

func TestParseStringToUUID(t *testing.T) {
	assert.Equal(t, uuid.Nil, ParseStringToUUID("not-a-uuid"))

	id := uuid.New()
	assert.Equal(t, id, ParseStringToUUID(id.String()))
}

func TestMarshalUnmarshalTask(t *testing.T) {
	task, err := MarshalTask(shared.TypeFailPayment, shared.FailPaymentPayload{PaymentID: "p1", Reason: "declined"})
	require.NoError(t, err)
	assert.Equal(t, shared.TypeFailPayment, task.Type())

	var payload shared.FailPaymentPayload
	require.NoError(t, UnmarshalTask(task, &payload))
	assert.Equal(t, "p1", payload.PaymentID)
	assert.Equal(t, "declined", payload.Reason)
}

package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/shared/response"
)

// =====================================================
// ERROR MAPPING HELPER
// =====================================================

func mapTerminalError(err error) (statusCode int, errorCode string) {
	// Default
	statusCode = http.StatusInternalServerError
	errorCode = model.ErrCodeInternal

	var te *model.TerminalError
	if !errors.As(err, &te) {
		return statusCode, errorCode
	}
	errorCode = te.Code

	switch te.Code {
	case model.ErrCodeGatewayUnavailable:
		statusCode = http.StatusServiceUnavailable
	case model.ErrCodeSessionNotFound, model.ErrCodePaymentNotFound:
		statusCode = http.StatusNotFound
	case model.ErrCodeSessionNotCancellable, model.ErrCodeInvalidTransition, model.ErrCodeTransactionAlreadyBound:
		statusCode = http.StatusConflict
	case model.ErrCodeInvalidSignature:
		statusCode = http.StatusForbidden
	case model.ErrCodeMissingSignature, model.ErrCodeMalformedWebhook, model.ErrCodeValidation:
		statusCode = http.StatusBadRequest
	}

	return statusCode, errorCode
}

// writeError renders a service error in the response envelope. Internal
// errors are logged and never leak their text to the client.
func writeError(c *gin.Context, err error) {
	statusCode, errCode := mapTerminalError(err)

	var te *model.TerminalError
	switch {
	case statusCode == http.StatusInternalServerError:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[HTTP] Request failed")
		response.ErrorResponse(c, statusCode, errCode, "Internal server error")
	case errCode == model.ErrCodeValidation && errors.As(err, &te) && te.Err != nil:
		response.ErrorWithDetails(c, statusCode, errCode, te.Message, te.Err.Error())
	case errors.As(err, &te):
		response.ErrorResponse(c, statusCode, errCode, te.Message)
	default:
		response.ErrorResponse(c, statusCode, errCode, err.Error())
	}
}

// bindJSON binds JSON request body
func bindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

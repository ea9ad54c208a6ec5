package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"policy-billing-engine/internal/core/domain"
)

// ErrorResponse is a standard structure for returning errors in JSON format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write json response", "error", err)
	}
}

// writeJSONError is a helper for sending errors in JSON format.
func writeJSONError(w http.ResponseWriter, message string, status int, logger *slog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: message}, logger)
}

// errorStatus maps domain errors onto HTTP status codes and stable error codes.
func errorStatus(err error) (int, string) {
	var (
		validationErr *domain.ValidationError
		limitErr      *domain.LimitExceededError
		refundErr     *domain.RefundError
		blockErr      *domain.FraudBlockError
		timeoutErr    *domain.GatewayTimeoutError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, string(validationErr.Code)
	case errors.As(err, &limitErr):
		return http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"
	case errors.As(err, &refundErr):
		return http.StatusConflict, string(refundErr.Code)
	case errors.As(err, &blockErr):
		return http.StatusPaymentRequired, "FRAUD_BLOCKED"
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, "GATEWAY_TIMEOUT"
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED"
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrPaymentMethodNotFound):
		return http.StatusNotFound, "PAYMENT_METHOD_NOT_FOUND"
	case errors.Is(err, domain.ErrChargeNotFound):
		return http.StatusNotFound, "CHARGE_NOT_FOUND"
	case errors.Is(err, domain.ErrPaymentMethodRevoked):
		return http.StatusGone, "PAYMENT_METHOD_REVOKED"
	case errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrSettlementUnavailable),
		errors.Is(err, domain.ErrBrokerUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *BillingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		h.logger.Warn("temporary failure in external dependency", "path", r.URL.Path, "error", err)
		message = "service temporarily unavailable"
	case status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout:
		h.logger.Error("unexpected error", "path", r.URL.Path, "error", err)
		message = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code}, h.logger)
}

package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"policy-billing-engine/internal/card"
	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/core/ports"
)

// BillingHandler exposes the billing service over JSON/HTTP.
type BillingHandler struct {
	service ports.BillingService
	logger  *slog.Logger
}

func NewBillingHandler(service ports.BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		service: service,
		logger:  logger,
	}
}

// Routes mounts the handlers on r, normally under /api/v1.
func (h *BillingHandler) Routes(r chi.Router) {
	r.Post("/payment-methods", h.HandleRegisterPaymentMethod)
	r.Get("/payment-methods/{token}", h.HandleGetPaymentMethod)
	r.Delete("/payment-methods/{token}", h.HandleRevokePaymentMethod)
	r.Get("/customers/{customerID}/payment-methods", h.HandleListPaymentMethods)

	r.Post("/charges", h.HandleCreateCharge)
	r.Get("/charges/{chargeID}", h.HandleGetCharge)
	r.Post("/charges/{chargeID}/refunds", h.HandleCreateRefund)

	r.Get("/admin/fraud-alerts", h.HandleListFraudAlerts)
	r.Get("/admin/customers/{customerID}/statement", h.HandleStatement)
}

type registerPaymentMethodRequest struct {
	CustomerID  string `json:"customer_id"`
	CardNumber  string `json:"card_number"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	// Expiry is an alternative to month/year, as "MM/YY" or "MM/YYYY".
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

func (h *BillingHandler) HandleRegisterPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req registerPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest, h.logger)
		return
	}

	expiry := domain.Expiry{Month: req.ExpiryMonth, Year: req.ExpiryYear}
	if req.Expiry != "" {
		parsed, err := card.ParseExpiry(req.Expiry)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		expiry = parsed
	}

	pm, err := h.service.RegisterPaymentMethod(r.Context(), domain.RegisterCardInput{
		CustomerID: req.CustomerID,
		CardNumber: req.CardNumber,
		Expiry:     expiry,
		CVV:        req.CVV,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pm, h.logger)
}

func (h *BillingHandler) HandleGetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	pm, err := h.service.GetPaymentMethod(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pm, h.logger)
}

func (h *BillingHandler) HandleRevokePaymentMethod(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokePaymentMethod(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BillingHandler) HandleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListPaymentMethods(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	writeJSON(w, http.StatusOK, methods, h.logger)
}

type chargeResponse struct {
	TransactionID  string              `json:"transaction_id"`
	CustomerID     string              `json:"customer_id"`
	Status         domain.ChargeStatus `json:"status"`
	FailureCode    string              `json:"failure_code,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	FraudAlerts    []domain.FraudAlert `json:"fraud_alerts"`
	IdempotencyKey string              `json:"idempotency_key"`
	Replayed       bool                `json:"replayed"`
	Error          string              `json:"error,omitempty"`
	Code           string              `json:"code,omitempty"`
}

func newChargeResponse(res *domain.ChargeResult) chargeResponse {
	alerts := res.Alerts
	if alerts == nil {
		alerts = []domain.FraudAlert{}
	}
	return chargeResponse{
		TransactionID:  res.Charge.ID,
		CustomerID:     res.Charge.CustomerID,
		Status:         res.Charge.Status,
		FailureCode:    res.Charge.FailureCode,
		Amount:         res.Charge.Amount,
		Currency:       res.Charge.Currency,
		FraudAlerts:    alerts,
		IdempotencyKey: res.Charge.IdempotencyKey,
		Replayed:       res.Replayed,
	}
}

// HandleCreateCharge takes the idempotency key from the Idempotency-Key
// header when the body does not carry one.
func (h *BillingHandler) HandleCreateCharge(w http.ResponseWriter, r *http.Request) {
	var req domain.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest, h.logger)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := h.service.Charge(r.Context(), req)
	switch {
	case err != nil && res != nil:
		// The charge was recorded as failed; return it alongside the cause.
		status, code := errorStatus(err)
		body := newChargeResponse(res)
		body.Error, body.Code = err.Error(), code
		writeJSON(w, status, body, h.logger)
	case err != nil:
		h.writeError(w, r, err)
	case res.Replayed:
		writeJSON(w, http.StatusOK, newChargeResponse(res), h.logger)
	default:
		writeJSON(w, http.StatusCreated, newChargeResponse(res), h.logger)
	}
}

func (h *BillingHandler) HandleGetCharge(w http.ResponseWriter, r *http.Request) {
	charge, err := h.service.GetCharge(r.Context(), chi.URLParam(r, "chargeID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, charge, h.logger)
}

type createRefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type refundResponse struct {
	RefundID        string              `json:"refund_id"`
	ChargeRef       string              `json:"charge_ref"`
	Amount          decimal.Decimal     `json:"amount"`
	Currency        string              `json:"currency"`
	NewChargeStatus domain.ChargeStatus `json:"new_charge_status"`
}

func (h *BillingHandler) HandleCreateRefund(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest, h.logger)
		return
	}

	res, err := h.service.Refund(r.Context(), domain.RefundRequest{
		ChargeRef: chi.URLParam(r, "chargeID"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, refundResponse{
		RefundID:        res.Refund.ID,
		ChargeRef:       res.Refund.ChargeRef,
		Amount:          res.Refund.Amount,
		Currency:        res.Refund.Currency,
		NewChargeStatus: res.NewChargeStatus,
	}, h.logger)
}

func (h *BillingHandler) HandleListFraudAlerts(w http.ResponseWriter, r *http.Request) {
	since, err := parseTimeParam(r, "since", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	alerts, err := h.service.FraudAlerts(r.Context(), domain.AlertFilter{
		CustomerID: r.URL.Query().Get("customer_id"),
		Since:      since,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.FraudAlert{}
	}
	writeJSON(w, http.StatusOK, alerts, h.logger)
}

func (h *BillingHandler) HandleStatement(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	st, err := h.service.Statement(r.Context(), chi.URLParam(r, "customerID"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st, h.logger)
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates (YYYY-MM-DD, UTC).
// With endOfDay set a plain date resolves to the last instant of that day, so
// an inclusive upper bound covers the whole day.
// An absent parameter yields the zero time.
func parseTimeParam(r *http.Request, name string, endOfDay bool) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", domain.ErrInvalidRequest, name)
}


package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cassiomorais/payrecon/internal/application/payment"
	"github.com/cassiomorais/payrecon/internal/gateway"
)

// PaymentService is the orchestrator surface the controller drives.
type PaymentService interface {
	Pay(ctx context.Context, tenant gateway.Tenant, cmd payment.PayCommand) (*gateway.Result, error)
	CreateTerminalIntent(ctx context.Context, tenant gateway.Tenant, cmd payment.TerminalCommand) (*gateway.Result, error)
	Refund(ctx context.Context, tenant gateway.Tenant, cmd payment.RefundCommand) (*payment.ReversalOutcome, error)
	Void(ctx context.Context, tenant gateway.Tenant, cmd payment.VoidCommand) (*payment.ReversalOutcome, error)
	Details(ctx context.Context, tenant gateway.Tenant, transactionID string, live bool) (*gateway.Details, error)
}

// PaymentController handles the authenticated payment endpoints.
type PaymentController struct {
	payments PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(payments PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

// Pay handles POST /api/v1/payments
func (h *PaymentController) Pay(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "auth_required", "authentication required")
		return
	}
	var req PayRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.payments.Pay(r.Context(), tenant, req.command())
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Settled {
		status = http.StatusOK
	}
	writeJSON(w, status, fromResult(res))
}

// CreateTerminalIntent handles POST /api/v1/payments/terminal/intents
func (h *PaymentController) CreateTerminalIntent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "auth_required", "authentication required")
		return
	}
	var req TerminalIntentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.payments.CreateTerminalIntent(r.Context(), tenant, payment.TerminalCommand{
		Amount:          req.Amount,
		TempOrderNumber: req.TempOrderNumber,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := fromResult(res)
	resp.ClientSecret = res.Note
	writeJSON(w, http.StatusCreated, resp)
}

// Refund handles POST /api/v1/payments/refund
func (h *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "auth_required", "authentication required")
		return
	}
	var req ReversalRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.payments.Refund(r.Context(), tenant, payment.RefundCommand{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromReversal(out))
}

// Void handles POST /api/v1/payments/void
func (h *PaymentController) Void(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "auth_required", "authentication required")
		return
	}
	var req ReversalRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.payments.Void(r.Context(), tenant, payment.VoidCommand{TransactionID: req.TransactionID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromReversal(out))
}

// Details handles GET /api/v1/payments/{transactionID}?live=true
func (h *PaymentController) Details(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "auth_required", "authentication required")
		return
	}
	live, _ := strconv.ParseBool(r.URL.Query().Get("live"))

	d, err := h.payments.Details(r.Context(), tenant, chi.URLParam(r, "transactionID"), live)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromDetails(d))
}

package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cassiomorais/payrecon/internal/application/webhook"
	"github.com/cassiomorais/payrecon/internal/domain/attempt"
)

// WebhookProcessor applies verified gateway deliveries.
type WebhookProcessor interface {
	Handle(ctx context.Context, d webhook.Delivery) (webhook.Outcome, error)
}

// EndpointEnsurer keeps a tenant's gateway-side registration valid.
type EndpointEnsurer interface {
	Ensure(ctx context.Context, userID int64, gw attempt.Gateway) (*webhook.EnsureResult, error)
}

// WebhookController receives gateway callbacks and manages registrations.
type WebhookController struct {
	processor WebhookProcessor
	endpoints EndpointEnsurer
}

func NewWebhookController(processor WebhookProcessor, endpoints EndpointEnsurer) *WebhookController {
	return &WebhookController{processor: processor, endpoints: endpoints}
}

// Receive handles POST /webhook/{gateway}/user/{userID}. Any verified
// delivery is acknowledged with 200, including ones that matched nothing,
// so the gateway stops retrying.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	gw, err := attempt.ParseGateway(chi.URLParam(r, "gateway"))
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeFailure(w, http.StatusBadRequest, "invalid_user", "Invalid user id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}
		writeFailure(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
		return
	}

	out, err := h.processor.Handle(r.Context(), webhook.Delivery{
		Gateway: gw,
		UserID:  userID,
		Body:    body,
		Headers: r.Header,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAck{Received: true, Result: string(out.Result), Message: out.Message})
}

// Ensure handles POST /api/v1/webhooks/{gateway}/ensure for the
// authenticated merchant.
func (h *WebhookController) Ensure(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantFrom(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "auth_required", "authentication required")
		return
	}
	gw, err := attempt.ParseGateway(chi.URLParam(r, "gateway"))
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.endpoints.Ensure(r.Context(), tenant.UserID, gw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromEnsure(res))
}

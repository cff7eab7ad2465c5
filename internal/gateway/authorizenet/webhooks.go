package authorizenet

import (
	"context"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
)

// ActiveStatus is the status of a live registration.
const ActiveStatus = "active"

// Notification event types.
const (
	EventAuthCaptureCreated = "net.authorize.payment.authcapture.created"
	EventRefundCreated      = "net.authorize.payment.refund.created"
	EventVoidCreated        = "net.authorize.payment.void.created"
)

// DesiredEvents is the sorted event set every registration must carry.
var DesiredEvents = []string{
	EventAuthCaptureCreated,
	EventRefundCreated,
	EventVoidCreated,
}

func (a *Adapter) Subscription() gateway.Subscription {
	return gateway.Subscription{Events: DesiredEvents, ActiveStatus: ActiveStatus}
}

func (a *Adapter) GetWebhook(ctx context.Context, id string) (*gateway.RemoteWebhook, error) {
	w, err := gateway.Read(ctx, a.Deps, "webhook.get", func(ctx context.Context) (*Webhook, error) {
		w, err := a.client.GetWebhook(ctx, id)
		if err != nil {
			return nil, webhookError(err)
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return toRemote(w), nil
}

func (a *Adapter) CreateWebhook(ctx context.Context, spec gateway.WebhookSpec) (*gateway.RemoteWebhook, error) {
	w, err := gateway.Call(ctx, a.Deps, "webhook.create", func(ctx context.Context) (*Webhook, error) {
		w, err := a.client.CreateWebhook(ctx, Webhook{
			URL:        spec.URL,
			EventTypes: spec.Events,
			Status:     ActiveStatus,
		})
		if err != nil {
			return nil, webhookError(err)
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	if w.WebhookID == "" {
		return nil, domainErrors.GatewayBusiness("webhook_create_failed", "Failed to create webhook", nil)
	}
	return toRemote(w), nil
}

func (a *Adapter) DeleteWebhook(ctx context.Context, id string) error {
	_, err := gateway.Call(ctx, a.Deps, "webhook.delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, webhookError(a.client.DeleteWebhook(ctx, id))
	})
	return err
}

func webhookError(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return domainErrors.NotFound("webhook_not_found", "Webhook not found")
	}
	return transportError(err)
}

// toRemote maps a registration. Authorize.net keeps no per-webhook secret;
// the signature key is a tenant credential.
func toRemote(w *Webhook) *gateway.RemoteWebhook {
	return &gateway.RemoteWebhook{
		ID:     w.WebhookID,
		URL:    w.URL,
		Status: w.Status,
		Events: w.EventTypes,
	}
}

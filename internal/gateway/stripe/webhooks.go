package stripe

import (
	"context"
	"strconv"

	"github.com/stripe/stripe-go/v81"

	"github.com/cassiomorais/payrecon/internal/gateway"
)

// ActiveStatus is the status Stripe reports for a live endpoint.
const ActiveStatus = "enabled"

// DesiredEvents are the event types a tenant endpoint must subscribe to.
var DesiredEvents = []string{
	"charge.succeeded",
	"payment_intent.canceled",
	"payment_intent.created",
	"payment_intent.payment_failed",
	"payment_intent.succeeded",
	"refund.created",
	"refund.failed",
	"refund.updated",
	"terminal.reader.action_succeeded",
}

func (a *Adapter) Subscription() gateway.Subscription {
	return gateway.Subscription{Events: DesiredEvents, ActiveStatus: ActiveStatus, PerEndpointSecret: true}
}

func (a *Adapter) GetWebhook(ctx context.Context, id string) (*gateway.RemoteWebhook, error) {
	ep, err := gateway.Read(ctx, a.Deps, "webhook_endpoint.get", func(ctx context.Context) (*stripe.WebhookEndpoint, error) {
		params := &stripe.WebhookEndpointParams{}
		params.Context = ctx
		ep, err := a.api.GetWebhookEndpoint(id, params)
		return ep, mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return toRemote(ep), nil
}

func (a *Adapter) CreateWebhook(ctx context.Context, spec gateway.WebhookSpec) (*gateway.RemoteWebhook, error) {
	ep, err := gateway.Call(ctx, a.Deps, "webhook_endpoint.create", func(ctx context.Context) (*stripe.WebhookEndpoint, error) {
		params := &stripe.WebhookEndpointParams{
			URL:           stripe.String(spec.URL),
			EnabledEvents: stripe.StringSlice(spec.Events),
			Description:   stripe.String(spec.Description),
		}
		params.Context = ctx
		params.AddMetadata(MetaUserID, strconv.FormatInt(spec.UserID, 10))
		ep, err := a.api.CreateWebhookEndpoint(params)
		return ep, mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return toRemote(ep), nil
}

func (a *Adapter) DeleteWebhook(ctx context.Context, id string) error {
	_, err := gateway.Call(ctx, a.Deps, "webhook_endpoint.delete", func(ctx context.Context) (*stripe.WebhookEndpoint, error) {
		params := &stripe.WebhookEndpointParams{}
		params.Context = ctx
		ep, err := a.api.DeleteWebhookEndpoint(id, params)
		return ep, mapError(err)
	})
	return err
}

func toRemote(ep *stripe.WebhookEndpoint) *gateway.RemoteWebhook {
	return &gateway.RemoteWebhook{
		ID:     ep.ID,
		URL:    ep.URL,
		Status: ep.Status,
		Events: append([]string(nil), ep.EnabledEvents...),
		Secret: ep.Secret,
	}
}

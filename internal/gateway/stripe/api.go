// Package stripe adapts Stripe's PaymentIntent, Refund and WebhookEndpoint
// APIs to the gateway contract.
package stripe

import (
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// API is the subset of the Stripe SDK the adapter uses.
type API interface {
	CreatePaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	ConfirmPaymentIntent(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetCharge(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
	CreateRefund(params *stripe.RefundParams) (*stripe.Refund, error)
	CreateWebhookEndpoint(params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error)
	GetWebhookEndpoint(id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error)
	DeleteWebhookEndpoint(id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error)
}

// sdkAPI is a per-tenant SDK client; the global stripe.Key is never set.
type sdkAPI struct {
	sc *client.API
}

// NewAPI returns an API bound to one tenant's secret key.
func NewAPI(secretKey string) API {
	return &sdkAPI{sc: client.New(secretKey, nil)}
}

func (a *sdkAPI) CreatePaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.New(params)
}

func (a *sdkAPI) ConfirmPaymentIntent(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.Confirm(id, params)
}

func (a *sdkAPI) CancelPaymentIntent(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.Cancel(id, params)
}

func (a *sdkAPI) GetPaymentIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.Get(id, params)
}

func (a *sdkAPI) GetCharge(id string, params *stripe.ChargeParams) (*stripe.Charge, error) {
	return a.sc.Charges.Get(id, params)
}

func (a *sdkAPI) CreateRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return a.sc.Refunds.New(params)
}

func (a *sdkAPI) CreateWebhookEndpoint(params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	return a.sc.WebhookEndpoints.New(params)
}

func (a *sdkAPI) GetWebhookEndpoint(id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	return a.sc.WebhookEndpoints.Get(id, params)
}

func (a *sdkAPI) DeleteWebhookEndpoint(id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	return a.sc.WebhookEndpoints.Del(id, params)
}

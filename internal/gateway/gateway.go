// Package gateway defines the contract every payment backend implements and
// the registry that builds per-tenant adapters behind circuit breakers.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
)

// DescriptorPOS marks a payment already collected by a Stripe terminal.
const DescriptorPOS = "POS_PAY"

// Adapter talks to one payment backend on behalf of one tenant.
type Adapter interface {
	Gateway() attempt.Gateway
	// Initiate opens a charge attempt and submits it. The row stays Attempt
	// until a webhook confirms it.
	Initiate(ctx context.Context, req InitiateRequest) (*Result, error)
	Refund(ctx context.Context, req ReversalRequest) (*Result, error)
	Void(ctx context.Context, req ReversalRequest) (*Result, error)
	QueryDetails(ctx context.Context, req DetailsRequest) (*Details, error)
	// ResolveExternal reconstructs a payment made outside this system and
	// checks it is eligible for op.
	ResolveExternal(ctx context.Context, transactionID string, op attempt.Operation) (*attempt.Original, error)
}

// WebhookRegistrar manages the gateway-side webhook registration.
type WebhookRegistrar interface {
	// Subscription is the registration every tenant endpoint must match.
	Subscription() Subscription
	GetWebhook(ctx context.Context, id string) (*RemoteWebhook, error)
	CreateWebhook(ctx context.Context, spec WebhookSpec) (*RemoteWebhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// Tenant identifies the merchant and the member acting for it.
type Tenant struct {
	UserID      int64
	StoreID     int64
	MemberEmail string
	MemberName  string
}

type InitiateRequest struct {
	Tenant
	Amount decimal.Decimal
	// Token is the client-side payment token (Stripe) or base64 opaque
	// data (Authorize.net). For POS payments it carries the intent id.
	Token           string
	Descriptor      string
	TempOrderNumber string
	GatewayLabel    string
}

// ReversalRequest refunds or voids Original. Amount is the positive
// magnitude to reverse.
type ReversalRequest struct {
	Tenant
	Original *attempt.Original
	Amount   decimal.Decimal
}

// Result is the synchronous outcome of a gateway call.
type Result struct {
	AttemptID         int64
	TransactionID     string
	ChargeID          string
	RefundID          string
	TransactionStatus string
	Gateway           string
	Status            string
	Message           string
	Note              string
	Amount            decimal.Decimal
	// Settled is true when the gateway's answer is authoritative and the
	// ledger row was already moved to its terminal status.
	Settled bool
}

type DetailsRequest struct {
	UserID        int64
	TransactionID string
	Live          bool
}

// Details is the ledger view of a transaction, optionally merged with the
// gateway's current view.
type Details struct {
	Attempt      *attempt.PaymentAttempt
	RemoteStatus string
	RemoteAmount *decimal.Decimal
	ChargeID     string
	CardLast4    string
	CardExpiry   string
}

// RemoteWebhook is a webhook registration as the gateway reports it.
type RemoteWebhook struct {
	ID     string
	URL    string
	Status string
	Events []string
	Secret string
}

// Subscription is a gateway's desired webhook event set and the status it
// reports for a live registration.
type Subscription struct {
	Events       []string
	ActiveStatus string
	// PerEndpointSecret is set when each registration signs with its own
	// secret, which must be stored alongside the id.
	PerEndpointSecret bool
}

// WebhookSpec describes a registration to create.
type WebhookSpec struct {
	URL         string
	Events      []string
	Description string
	UserID      int64
}

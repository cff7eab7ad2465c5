// Package payment sequences tenant payment operations: it resolves the
// gateway, runs the reversal checks and hands the call to the adapter.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/application/refund"
	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// Checkout is the resolved context of one operation. It is built once per
// request and passed by value; Config carries its own copy of the
// credentials.
type Checkout struct {
	Tenant  gateway.Tenant
	Config  merchant.GatewayConfig
	Gateway attempt.Gateway
	// Label is written to the ledger's gateway column.
	Label  string
	Amount decimal.Decimal
	POS    bool
}

func newCheckout(tenant gateway.Tenant, cfg *merchant.GatewayConfig, amount decimal.Decimal) Checkout {
	c := *cfg
	c.Credentials = cfg.Credentials.Clone()
	return Checkout{
		Tenant:  tenant,
		Config:  c,
		Gateway: cfg.Gateway,
		Label:   cfg.Gateway.Label(),
		Amount:  amount,
	}
}

// Orchestrator runs payment, refund, void and lookup requests for tenants.
type Orchestrator struct {
	merchants merchant.Repository
	ledger    attempt.Ledger
	adapters  Adapters
	validator *refund.Validator
	locker    Locker
	cart      CartVerifier
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewOrchestrator wires the orchestrator. cart may be nil to skip cart
// verification.
func NewOrchestrator(
	merchants merchant.Repository,
	ledger attempt.Ledger,
	adapters Adapters,
	validator *refund.Validator,
	locker Locker,
	cart CartVerifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		merchants: merchants,
		ledger:    ledger,
		adapters:  adapters,
		validator: validator,
		locker:    locker,
		cart:      cart,
		metrics:   metrics,
		logger:    logger,
	}
}

// activeConfig is the tenant's primary gateway.
func (o *Orchestrator) activeConfig(ctx context.Context, userID int64) (*merchant.GatewayConfig, error) {
	cfg, err := o.merchants.FindActive(ctx, userID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrGatewayNotConfigured) {
			return nil, domainErrors.NotFound("gateway_not_configured", "No active payment gateway configured for user")
		}
		return nil, fmt.Errorf("find active gateway: %w", err)
	}
	return cfg, nil
}

// stripeConfig is the tenant's newest Stripe config, used for terminal
// payments whatever the primary gateway is.
func (o *Orchestrator) stripeConfig(ctx context.Context, userID int64) (*merchant.GatewayConfig, error) {
	cfg, err := o.merchants.FindLatestByGateway(ctx, userID, attempt.GatewayStripe)
	if err != nil {
		if errors.Is(err, domainErrors.ErrGatewayNotConfigured) {
			return nil, domainErrors.NotFound("pos_not_configured", "Stripe must be configured to accept POS payments")
		}
		return nil, fmt.Errorf("find stripe gateway: %w", err)
	}
	return cfg, nil
}

// configFor picks the gateway that took transactionID. Charges recorded in
// the ledger go back to the gateway named on the row; anything else goes
// to the tenant's primary gateway.
func (o *Orchestrator) configFor(ctx context.Context, userID int64, transactionID string) (*merchant.GatewayConfig, error) {
	row, err := o.ledger.FindByTransaction(ctx, attempt.TransactionQuery{
		TransactionID: transactionID,
		UserID:        userID,
		Operation:     attempt.OperationCharge,
	})
	switch {
	case err == nil:
		if gw, ok := attempt.GatewayForLabel(row.Gateway); ok {
			cfg, err := o.merchants.FindLatestByGateway(ctx, userID, gw)
			if err == nil {
				return cfg, nil
			}
			if !errors.Is(err, domainErrors.ErrGatewayNotConfigured) {
				return nil, fmt.Errorf("find %s gateway: %w", gw, err)
			}
		}
	case !errors.Is(err, domainErrors.ErrAttemptNotFound):
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return o.activeConfig(ctx, userID)
}

func (o *Orchestrator) record(gw attempt.Gateway, op attempt.Operation, err error) {
	if o.metrics == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = string(domainErrors.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if gw == "" {
		gw = "unknown"
	}
	o.metrics.AttemptsTotal.WithLabelValues(string(gw), string(op), outcome).Inc()
}

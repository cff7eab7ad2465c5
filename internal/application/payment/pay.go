package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// PayCommand asks to charge Amount. Token is the client-side payment token;
// with the POS descriptor it carries the base64 intent id a reader already
// collected.
type PayCommand struct {
	Amount          decimal.Decimal
	Token           string
	Descriptor      string
	TempOrderNumber string
}

// TerminalCommand asks to open a card-present payment on a reader.
type TerminalCommand struct {
	Amount          decimal.Decimal
	TempOrderNumber string
}

// Pay opens a charge attempt with the tenant's gateway. POS payments always
// go to Stripe. The returned attempt stays pending until a webhook
// confirms it, unless Result.Settled says otherwise.
func (o *Orchestrator) Pay(ctx context.Context, tenant gateway.Tenant, cmd PayCommand) (res *gateway.Result, err error) {
	pos := cmd.Descriptor == gateway.DescriptorPOS
	ctx, end := observability.StartSpan(ctx, "payment.pay",
		attribute.Int64("user_id", tenant.UserID),
		attribute.Bool("pos", pos),
	)
	defer func() { end(err) }()

	var co Checkout
	defer func() { o.record(co.Gateway, attempt.OperationCharge, err) }()

	if err := validatePay(cmd, pos); err != nil {
		return nil, err
	}

	co, err = o.payCheckout(ctx, tenant, cmd.Amount, pos)
	if err != nil {
		return nil, err
	}

	if !pos && o.cart != nil && cmd.TempOrderNumber != "" {
		if err := o.cart.Verify(ctx, CartCheck{
			UserID:          tenant.UserID,
			StoreID:         tenant.StoreID,
			TempOrderNumber: cmd.TempOrderNumber,
			Amount:          co.Amount,
		}); err != nil {
			o.logger.Warn().Err(err).Int64("user_id", tenant.UserID).Str("temp_order_number", cmd.TempOrderNumber).
				Msg("Cart verification failed")
			return nil, err
		}
	}

	adapter, err := o.adapters.Adapter(&co.Config)
	if err != nil {
		return nil, err
	}
	res, err = adapter.Initiate(ctx, gateway.InitiateRequest{
		Tenant:          co.Tenant,
		Amount:          co.Amount,
		Token:           cmd.Token,
		Descriptor:      cmd.Descriptor,
		TempOrderNumber: cmd.TempOrderNumber,
		GatewayLabel:    co.Label,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Int64("user_id", tenant.UserID).
		Int64("attempt_id", res.AttemptID).
		Str("gateway", res.Gateway).
		Str("transaction_id", res.TransactionID).
		Str("amount", co.Amount.StringFixed(2)).
		Msg("Payment initiated")
	return res, nil
}

func (o *Orchestrator) payCheckout(ctx context.Context, tenant gateway.Tenant, amount decimal.Decimal, pos bool) (Checkout, error) {
	if pos {
		cfg, err := o.stripeConfig(ctx, tenant.UserID)
		if err != nil {
			return Checkout{}, err
		}
		co := newCheckout(tenant, cfg, amount)
		co.Label = attempt.LabelStripePOS
		co.POS = true
		return co, nil
	}
	cfg, err := o.activeConfig(ctx, tenant.UserID)
	if err != nil {
		return Checkout{}, err
	}
	return newCheckout(tenant, cfg, amount.Round(2)), nil
}

func validatePay(cmd PayCommand, pos bool) error {
	if strings.TrimSpace(cmd.Token) == "" {
		return domainErrors.Validation("missing_token", "Payment token is required.")
	}
	if pos {
		return nil
	}
	if cmd.Amount.LessThan(attempt.MinimumAmount) {
		return domainErrors.Validation("invalid_amount", "Amount must be at least 0.01.")
	}
	return nil
}

// CreateTerminalIntent opens a POS attempt on the tenant's Stripe account
// for a reader to collect.
func (o *Orchestrator) CreateTerminalIntent(ctx context.Context, tenant gateway.Tenant, cmd TerminalCommand) (res *gateway.Result, err error) {
	ctx, end := observability.StartSpan(ctx, "payment.terminal_intent", attribute.Int64("user_id", tenant.UserID))
	defer func() { end(err) }()
	defer func() { o.record(attempt.GatewayStripe, attempt.OperationCharge, err) }()

	if cmd.Amount.LessThan(attempt.MinimumAmount) {
		return nil, domainErrors.Validation("invalid_amount", "Amount must be at least 0.01.")
	}
	co, err := o.payCheckout(ctx, tenant, cmd.Amount.Round(2), true)
	if err != nil {
		return nil, err
	}
	adapter, err := o.adapters.Adapter(&co.Config)
	if err != nil {
		return nil, err
	}
	terminal, ok := adapter.(TerminalIntents)
	if !ok {
		return nil, domainErrors.Configuration("terminal_unsupported", "Gateway does not support terminal payments")
	}
	return terminal.CreateTerminalIntent(ctx, gateway.InitiateRequest{
		Tenant:          co.Tenant,
		Amount:          co.Amount,
		Descriptor:      gateway.DescriptorPOS,
		TempOrderNumber: cmd.TempOrderNumber,
		GatewayLabel:    co.Label,
	})
}

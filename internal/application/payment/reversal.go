package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cassiomorais/payrecon/internal/application/refund"
	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// RefundCommand refunds TransactionID. A nil Amount refunds whatever remains.
type RefundCommand struct {
	TransactionID string
	Amount        *decimal.Decimal
}

// VoidCommand voids TransactionID in full.
type VoidCommand struct {
	TransactionID string
}

// ReversalOutcome is the gateway result plus, for refunds, what stays
// refundable once this refund settles.
type ReversalOutcome struct {
	*gateway.Result
	RemainingRefundable *decimal.Decimal
}

// reversalLockKey serialises reversals of one transaction so the ceiling
// check and the pending row it creates happen together.
func reversalLockKey(transactionID string) string {
	return "reversal:" + transactionID
}

// Refund validates and submits a refund of a paid transaction.
func (o *Orchestrator) Refund(ctx context.Context, tenant gateway.Tenant, cmd RefundCommand) (*ReversalOutcome, error) {
	return o.reverse(ctx, tenant, cmd.TransactionID, cmd.Amount, attempt.OperationRefund)
}

// Void validates and submits a void of an unsettled transaction.
func (o *Orchestrator) Void(ctx context.Context, tenant gateway.Tenant, cmd VoidCommand) (*ReversalOutcome, error) {
	return o.reverse(ctx, tenant, cmd.TransactionID, nil, attempt.OperationVoid)
}

func (o *Orchestrator) reverse(ctx context.Context, tenant gateway.Tenant, transactionID string, amount *decimal.Decimal, op attempt.Operation) (out *ReversalOutcome, err error) {
	transactionID = strings.TrimSpace(transactionID)
	ctx, end := observability.StartSpan(ctx, "payment."+string(op),
		attribute.Int64("user_id", tenant.UserID),
		attribute.String("transaction_id", transactionID),
	)
	defer func() { end(err) }()

	var gw attempt.Gateway
	defer func() { o.record(gw, op, err) }()

	if transactionID == "" {
		return nil, domainErrors.Validation("missing_transaction_id", "Transaction ID is required")
	}

	cfg, err := o.configFor(ctx, tenant.UserID, transactionID)
	if err != nil {
		return nil, err
	}
	co := newCheckout(tenant, cfg, decimal.Zero)
	gw = co.Gateway

	adapter, err := o.adapters.Adapter(&co.Config)
	if err != nil {
		return nil, err
	}

	run := func(ctx context.Context) error {
		var runErr error
		out, runErr = o.submitReversal(ctx, adapter, tenant, transactionID, amount, op)
		return runErr
	}
	if o.locker == nil {
		err = run(ctx)
	} else {
		err = o.locker.WithLock(ctx, reversalLockKey(transactionID), run)
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
			err = domainErrors.BusinessRule("reversal_in_progress",
				"Another refund or void is in progress for this transaction").WithStatus(409)
		}
	}
	if err != nil {
		o.logger.Warn().Err(err).
			Int64("user_id", tenant.UserID).
			Str("transaction_id", transactionID).
			Str("operation", string(op)).
			Msg("Reversal rejected")
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) submitReversal(ctx context.Context, adapter gateway.Adapter, tenant gateway.Tenant, transactionID string, amount *decimal.Decimal, op attempt.Operation) (*ReversalOutcome, error) {
	elig, err := o.validator.Validate(ctx, refund.Request{
		TransactionID: transactionID,
		UserID:        tenant.UserID,
		StoreID:       tenant.StoreID,
		MemberEmail:   tenant.MemberEmail,
		MemberName:    tenant.MemberName,
		Amount:        amount,
		Operation:     op,
	}, adapter)
	if err != nil {
		return nil, err
	}

	req := gateway.ReversalRequest{Tenant: tenant, Original: elig.Original, Amount: elig.Amount}
	var res *gateway.Result
	if op == attempt.OperationVoid {
		res, err = adapter.Void(ctx, req)
	} else {
		res, err = adapter.Refund(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Int64("user_id", tenant.UserID).
		Int64("attempt_id", res.AttemptID).
		Str("transaction_id", transactionID).
		Str("operation", string(op)).
		Str("amount", elig.Amount.StringFixed(2)).
		Bool("external", elig.Original.IsExternal).
		Msg("Reversal submitted")

	out := &ReversalOutcome{Result: res}
	if op == attempt.OperationRefund {
		remaining := elig.Remaining
		out.RemainingRefundable = &remaining
	}
	return out, nil
}

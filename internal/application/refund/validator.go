// Package refund decides whether a refund or void may be submitted and for
// how much.
package refund

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

// ExternalResolver reconstructs payments made outside the ledger.
type ExternalResolver interface {
	ResolveExternal(ctx context.Context, transactionID string, op attempt.Operation) (*attempt.Original, error)
}

// Request asks whether TransactionID may be reversed. Amount is the positive
// magnitude to refund; nil refunds whatever remains. Voids always reverse the
// full original amount.
type Request struct {
	TransactionID string
	UserID        int64
	StoreID       int64
	MemberEmail   string
	MemberName    string
	Amount        *decimal.Decimal
	Operation     attempt.Operation
}

// Eligibility is an approved reversal.
type Eligibility struct {
	Original *attempt.Original
	// Amount is the positive magnitude to submit.
	Amount decimal.Decimal
	// TotalRefunded is the magnitude of settled refunds.
	TotalRefunded decimal.Decimal
	// Pending is the magnitude of refunds still awaiting confirmation.
	Pending decimal.Decimal
	// Remaining is what stays refundable once Amount settles.
	Remaining decimal.Decimal
}

// Validator applies the reversal rules against the ledger.
type Validator struct {
	ledger attempt.Ledger
	logger zerolog.Logger
}

func NewValidator(ledger attempt.Ledger, logger zerolog.Logger) *Validator {
	return &Validator{ledger: ledger, logger: logger}
}

// Validate resolves the original payment, locally first and then through
// resolver, and checks the reversal against every row recorded for it.
// In-flight reversals count against the refund ceiling and block voids.
func (v *Validator) Validate(ctx context.Context, req Request, resolver ExternalResolver) (*Eligibility, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" || req.UserID == 0 {
		return nil, domainErrors.Validation("missing_identifiers", "Transaction ID and User ID are required")
	}
	if !req.Operation.IsReversal() {
		return nil, domainErrors.Validation("invalid_operation", "Operation must be refund or void")
	}
	if req.Amount != nil && req.Amount.Abs().LessThan(attempt.MinimumAmount) {
		return nil, domainErrors.Validation("invalid_amount", "Amount must be at least 0.01.")
	}

	orig, err := v.original(ctx, req, resolver)
	if err != nil {
		return nil, err
	}
	if req.Operation == attempt.OperationVoid {
		return v.checkVoid(ctx, orig)
	}
	return v.checkRefund(ctx, orig, req.Amount)
}

func (v *Validator) original(ctx context.Context, req Request, resolver ExternalResolver) (*attempt.Original, error) {
	row, err := v.ledger.FindByTransaction(ctx, attempt.TransactionQuery{
		TransactionID: req.TransactionID,
		UserID:        req.UserID,
		Statuses:      []attempt.Status{attempt.StatusPaid},
		Operation:     attempt.OperationCharge,
	})
	if err == nil {
		return attempt.OriginalFromAttempt(row), nil
	}
	if !errors.Is(err, domainErrors.ErrAttemptNotFound) {
		return nil, fmt.Errorf("find original payment: %w", err)
	}

	v.logger.Info().
		Str("transaction_id", req.TransactionID).
		Int64("user_id", req.UserID).
		Str("operation", string(req.Operation)).
		Msg("Transaction not found in ledger, checking as external transaction")

	if resolver == nil {
		return nil, domainErrors.NotFound("transaction_not_found", "Transaction not found: "+req.TransactionID)
	}
	orig, err := resolver.ResolveExternal(ctx, req.TransactionID, req.Operation)
	if err != nil {
		return nil, err
	}
	orig.IsExternal = true
	orig.UserID = req.UserID
	if orig.StoreID == 0 {
		orig.StoreID = req.StoreID
	}
	if orig.MemberEmail == "" {
		orig.MemberEmail = req.MemberEmail
	}
	if orig.MemberName == "" {
		orig.MemberName = req.MemberName
	}
	return orig, nil
}

func (v *Validator) voided(ctx context.Context, orig *attempt.Original) (bool, error) {
	_, err := v.ledger.FindByTransaction(ctx, attempt.TransactionQuery{
		TransactionID: orig.TransactionID,
		Statuses:      []attempt.Status{attempt.StatusVoid},
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domainErrors.ErrAttemptNotFound):
		return false, nil
	}
	return false, fmt.Errorf("check voids: %w", err)
}

// inFlight returns the magnitude of pending reversals of op.
func (v *Validator) inFlight(ctx context.Context, orig *attempt.Original, op attempt.Operation) (decimal.Decimal, error) {
	sum, err := v.ledger.SumAmount(ctx, orig.TransactionID, op, attempt.StatusAttempt)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum pending %s: %w", op, err)
	}
	return sum.Abs(), nil
}

func (v *Validator) checkVoid(ctx context.Context, orig *attempt.Original) (*Eligibility, error) {
	voided, err := v.voided(ctx, orig)
	if err != nil {
		return nil, err
	}
	if voided {
		return nil, domainErrors.BusinessRule("already_voided", "This transaction has already been voided.")
	}
	if orig.Status != attempt.StatusPaid {
		return nil, domainErrors.BusinessRule("not_voidable",
			fmt.Sprintf("Transaction cannot be voided. Only paid transactions can be voided. Current status: %s", orig.Status))
	}

	pendingVoid, err := v.inFlight(ctx, orig, attempt.OperationVoid)
	if err != nil {
		return nil, err
	}
	pendingRefund, err := v.inFlight(ctx, orig, attempt.OperationRefund)
	if err != nil {
		return nil, err
	}
	if pendingVoid.IsPositive() || pendingRefund.IsPositive() {
		return nil, domainErrors.BusinessRule("reversal_in_progress",
			"A refund or void is already in progress for this transaction.")
	}

	return &Eligibility{
		Original:      orig,
		Amount:        orig.Amount.Abs(),
		TotalRefunded: decimal.Zero,
		Pending:       decimal.Zero,
		Remaining:     decimal.Zero,
	}, nil
}

func (v *Validator) checkRefund(ctx context.Context, orig *attempt.Original, requested *decimal.Decimal) (*Eligibility, error) {
	voided, err := v.voided(ctx, orig)
	if err != nil {
		return nil, err
	}
	if voided {
		return nil, domainErrors.BusinessRule("already_voided",
			fmt.Sprintf("Unable to process refund since the payment with transaction ID %s has already been voided.", orig.TransactionID))
	}
	pendingVoid, err := v.inFlight(ctx, orig, attempt.OperationVoid)
	if err != nil {
		return nil, err
	}
	if pendingVoid.IsPositive() {
		return nil, domainErrors.BusinessRule("void_in_progress",
			"A void is already in progress for this transaction.")
	}

	refunded, err := v.ledger.SumAmount(ctx, orig.TransactionID, attempt.OperationRefund, attempt.StatusRefund)
	if err != nil {
		return nil, fmt.Errorf("sum refunds: %w", err)
	}
	totalRefunded := refunded.Abs()
	original := orig.Amount.Abs()
	if totalRefunded.GreaterThanOrEqual(original) {
		return nil, domainErrors.BusinessRule("fully_refunded",
			fmt.Sprintf("Payment with transaction ID %s has already been fully refunded.", orig.TransactionID))
	}
	if orig.Status == attempt.StatusRefund {
		return nil, domainErrors.BusinessRule("already_refunded",
			fmt.Sprintf("Payment with transaction ID %s has already been refunded.", orig.TransactionID))
	}

	pending, err := v.inFlight(ctx, orig, attempt.OperationRefund)
	if err != nil {
		return nil, err
	}
	available := original.Sub(totalRefunded).Sub(pending).Round(2)

	amount := available
	if requested != nil {
		amount = requested.Abs().Round(2)
	}
	if !amount.IsPositive() || amount.GreaterThan(available) {
		return nil, domainErrors.BusinessRule("refund_exceeds_remaining",
			"Requested refund exceeds the remaining refundable amount.")
	}

	return &Eligibility{
		Original:      orig,
		Amount:        amount,
		TotalRefunded: totalRefunded,
		Pending:       pending,
		Remaining:     available.Sub(amount),
	}, nil
}

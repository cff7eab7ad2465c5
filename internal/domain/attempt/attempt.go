package attempt

import (
	"time"

	domainerrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// MinimumAmount is the smallest chargeable amount in display units.
var MinimumAmount = decimal.New(1, -2)

// PaymentAttempt is one ledger row: a charge, refund or void. Reversal rows
// carry the negative of the amount they reverse and share the original
// charge's TransactionID.
type PaymentAttempt struct {
	ID                      int64
	UserID                  int64
	StoreID                 int64
	Operation               Operation
	Amount                  decimal.Decimal
	Status                  Status
	TransactionID           string
	RefundVoidTransactionID string
	ChargeID                string
	TempOrderNumber         string
	Gateway                 string
	Comment                 string
	HandleComment           string
	CardLast4               string
	CardExpiry              string
	MemberEmail             string
	MemberName              string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewCharge creates a pending charge attempt.
func NewCharge(userID, storeID int64, amount decimal.Decimal, gatewayLabel, tempOrderNumber string) (*PaymentAttempt, error) {
	if amount.LessThan(MinimumAmount) {
		return nil, domainerrors.NewDomainError("invalid_amount", "amount must be at least 0.01", domainerrors.ErrInvalidAmount)
	}
	now := time.Now()
	return &PaymentAttempt{
		UserID:          userID,
		StoreID:         storeID,
		Operation:       OperationCharge,
		Amount:          amount.Round(2),
		Status:          StatusAttempt,
		TempOrderNumber: tempOrderNumber,
		Gateway:         gatewayLabel,
		Comment:         "Payment initiated, awaiting webhook confirmation",
		HandleComment:   "Payment attempt",
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewReversal creates a pending refund or void attempt against original.
// The stored amount is always the negative of amount's magnitude.
func NewReversal(op Operation, original *Original, amount decimal.Decimal, gatewayLabel string) (*PaymentAttempt, error) {
	if !op.IsReversal() {
		return nil, domainerrors.NewDomainError("invalid_operation", "reversal must be a refund or void", domainerrors.ErrInvalidInput)
	}
	if amount.Abs().LessThan(MinimumAmount) {
		return nil, domainerrors.NewDomainError("invalid_amount", "reversal amount must be at least 0.01", domainerrors.ErrInvalidAmount)
	}
	comment := "Refund initiated, awaiting webhook confirmation"
	handle := "Refund attempt"
	if op == OperationVoid {
		comment = "Void initiated, awaiting webhook confirmation"
		handle = "Void attempt"
	}
	if original.IsExternal {
		comment = "External transaction " + string(op) + " initiated, awaiting webhook confirmation"
	}
	now := time.Now()
	return &PaymentAttempt{
		UserID:          original.UserID,
		StoreID:         original.StoreID,
		Operation:       op,
		Amount:          amount.Abs().Round(2).Neg(),
		Status:          StatusAttempt,
		TransactionID:   original.TransactionID,
		ChargeID:        original.ChargeID,
		TempOrderNumber: original.TempOrderNumber,
		Gateway:         gatewayLabel,
		Comment:         comment,
		HandleComment:   handle,
		CardLast4:       original.CardLast4,
		CardExpiry:      original.CardExpiry,
		MemberEmail:     original.MemberEmail,
		MemberName:      original.MemberName,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ValidateSign checks the amount sign against the row's operation and status.
func (a *PaymentAttempt) ValidateSign() error {
	return validateSign(a.Operation, a.Status, a.Amount)
}

func validateSign(op Operation, status Status, amount decimal.Decimal) error {
	switch {
	case amount.IsZero():
		return domainerrors.ErrSignInvariant
	case op == OperationCharge && !amount.IsPositive():
		return domainerrors.ErrSignInvariant
	case op.IsReversal() && !amount.IsNegative():
		return domainerrors.ErrSignInvariant
	case (status == StatusRefund || status == StatusVoid) && !amount.IsNegative():
		return domainerrors.ErrSignInvariant
	case status == StatusPaid && !amount.IsPositive():
		return domainerrors.ErrSignInvariant
	}
	return nil
}

// CanTransitionTo reports whether a status update to target may be applied
// and keeps the sign invariant intact.
func (a *PaymentAttempt) CanTransitionTo(target Status) bool {
	return a.Status.CanApply(target) && a.SignAllows(target)
}

// SignAllows reports whether the row's amount fits target. Operation and
// amount never change after insert, so any read of the row can answer it.
func (a *PaymentAttempt) SignAllows(target Status) bool {
	return target.Valid() && validateSign(a.Operation, target, a.Amount) == nil
}

// Invoice returns the correlation envelope sent to the gateway. Reversal
// envelopes omit the store id.
func (a *PaymentAttempt) Invoice() Invoice {
	inv := Invoice{UserID: a.UserID, AttemptID: a.ID, TempOrderNumber: a.TempOrderNumber}
	if a.Operation == OperationCharge {
		inv.StoreID = a.StoreID
		inv.HasStore = true
	}
	return inv
}

// Apply copies the non-empty values of f onto a.
func (a *PaymentAttempt) Apply(f Fields) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&a.TransactionID, f.TransactionID)
	set(&a.RefundVoidTransactionID, f.RefundVoidTransactionID)
	set(&a.ChargeID, f.ChargeID)
	set(&a.Gateway, f.Gateway)
	set(&a.Comment, f.Comment)
	set(&a.HandleComment, f.HandleComment)
	set(&a.CardLast4, f.CardLast4)
	set(&a.CardExpiry, f.CardExpiry)
	a.UpdatedAt = time.Now()
}

// Fields are the correlation and narrative columns a status update or
// annotation may set. Empty strings leave the stored value unchanged.
type Fields struct {
	TransactionID           string
	RefundVoidTransactionID string
	ChargeID                string
	Gateway                 string
	Comment                 string
	HandleComment           string
	CardLast4               string
	CardExpiry              string
}

// Original is the payment a refund or void reverses: a Paid ledger row or a
// snapshot reconstructed from the gateway for transactions made elsewhere.
type Original struct {
	AttemptID       int64
	UserID          int64
	StoreID         int64
	TransactionID   string
	ChargeID        string
	Amount          decimal.Decimal
	Status          Status
	TempOrderNumber string
	Gateway         string
	CardLast4       string
	CardExpiry      string
	MemberEmail     string
	MemberName      string
	IsExternal      bool
}

// OriginalFromAttempt snapshots a local Paid row.
func OriginalFromAttempt(a *PaymentAttempt) *Original {
	return &Original{
		AttemptID:       a.ID,
		UserID:          a.UserID,
		StoreID:         a.StoreID,
		TransactionID:   a.TransactionID,
		ChargeID:        a.ChargeID,
		Amount:          a.Amount,
		Status:          a.Status,
		TempOrderNumber: a.TempOrderNumber,
		Gateway:         a.Gateway,
		CardLast4:       a.CardLast4,
		CardExpiry:      a.CardExpiry,
		MemberEmail:     a.MemberEmail,
		MemberName:      a.MemberName,
	}
}

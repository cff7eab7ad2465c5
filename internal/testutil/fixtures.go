package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
)

const (
	TestUserID  int64 = 7
	TestStoreID int64 = 3
)

// Dec parses a decimal literal and panics on bad input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewPaidCharge returns a settled charge row for the test tenant.
func NewPaidCharge(transactionID, chargeID, amount, gatewayLabel string) *attempt.PaymentAttempt {
	now := time.Now()
	return &attempt.PaymentAttempt{
		UserID:          TestUserID,
		StoreID:         TestStoreID,
		Operation:       attempt.OperationCharge,
		Amount:          Dec(amount),
		Status:          attempt.StatusPaid,
		TransactionID:   transactionID,
		ChargeID:        chargeID,
		TempOrderNumber: "T100",
		Gateway:         gatewayLabel,
		Comment:         "Payment confirmed",
		HandleComment:   "Payment attempt",
		CardLast4:       "4242",
		CardExpiry:      "12/2030",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewReversalRow returns a reversal row against transactionID with the
// given status. amount is the positive magnitude.
func NewReversalRow(op attempt.Operation, status attempt.Status, transactionID, chargeID, amount, gatewayLabel string) *attempt.PaymentAttempt {
	now := time.Now()
	return &attempt.PaymentAttempt{
		UserID:          TestUserID,
		StoreID:         TestStoreID,
		Operation:       op,
		Amount:          Dec(amount).Neg(),
		Status:          status,
		TransactionID:   transactionID,
		ChargeID:        chargeID,
		TempOrderNumber: "T100",
		Gateway:         gatewayLabel,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewStripeConfig returns an active Stripe config for the test tenant.
func NewStripeConfig(id int64, extra map[string]string) *merchant.GatewayConfig {
	creds := merchant.Credentials{
		merchant.KeySecretKey:      "sk_test_123",
		merchant.KeyPublishableKey: "pk_test_123",
	}
	for k, v := range extra {
		creds[k] = v
	}
	return &merchant.GatewayConfig{
		ID:          id,
		UserID:      TestUserID,
		Gateway:     attempt.GatewayStripe,
		Active:      true,
		Credentials: creds,
	}
}

// NewAuthorizeNetConfig returns an active Authorize.net config for the test tenant.
func NewAuthorizeNetConfig(id int64, extra map[string]string) *merchant.GatewayConfig {
	creds := merchant.Credentials{
		merchant.KeyLoginID:        "login",
		merchant.KeyTransactionKey: "txkey",
		merchant.KeySigningKey:     "ABCDEF0123456789",
	}
	for k, v := range extra {
		creds[k] = v
	}
	return &merchant.GatewayConfig{
		ID:          id,
		UserID:      TestUserID,
		Gateway:     attempt.GatewayAuthorizeNet,
		Active:      true,
		Credentials: creds,
	}
}

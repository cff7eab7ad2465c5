package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway"
)

// Adapters builds the adapter for a tenant's gateway config.
type Adapters interface {
	Adapter(cfg *merchant.GatewayConfig) (gateway.Adapter, error)
}

// Locker serialises work on a key across processes. It returns
// errors.ErrLockAcquisitionFailed when the key stays held.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// CartCheck asks the cart service to confirm a charge amount.
type CartCheck struct {
	UserID          int64
	StoreID         int64
	TempOrderNumber string
	Amount          decimal.Decimal
}

// CartVerifier confirms the amount a client asks to charge matches its cart.
// A mismatch is a business rule violation.
type CartVerifier interface {
	Verify(ctx context.Context, check CartCheck) error
}

// TerminalIntents is implemented by adapters that take card-present
// payments through a reader.
type TerminalIntents interface {
	CreateTerminalIntent(ctx context.Context, req gateway.InitiateRequest) (*gateway.Result, error)
}

package attempt

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the store of payment attempts. Lookups return
// errors.ErrAttemptNotFound when nothing matches.
type Ledger interface {
	// Create inserts a row and assigns its ID.
	Create(ctx context.Context, a *PaymentAttempt) error

	FindByID(ctx context.Context, id int64) (*PaymentAttempt, error)

	// FindByTransaction returns the latest row matching q.
	FindByTransaction(ctx context.Context, q TransactionQuery) (*PaymentAttempt, error)

	// FindByReference matches transaction_id or refund_void_transaction_id for a user.
	FindByReference(ctx context.Context, userID int64, reference string) (*PaymentAttempt, error)

	// SumAmount sums amounts for a transaction id, optionally narrowed by
	// operation ("" for any) and statuses.
	SumAmount(ctx context.Context, transactionID string, op Operation, statuses ...Status) (decimal.Decimal, error)

	// FindPendingReversal returns the latest Attempt-status reversal row
	// matching the charge or transaction reference and the exact amount.
	FindPendingReversal(ctx context.Context, q ReversalQuery) (*PaymentAttempt, error)

	// UpdateStatus moves a row to status if its current status is Attempt or
	// already equal to status. The row is locked while the status is compared,
	// so concurrent callers observe each other. It returns the status held
	// before the call and whether the row was written. A Void is not written
	// when another row of the same transaction is already Void.
	UpdateStatus(ctx context.Context, id int64, status Status, f Fields) (previous Status, applied bool, err error)

	// Annotate sets correlation and narrative fields without touching status.
	Annotate(ctx context.Context, id int64, f Fields) error

	// CountStale counts rows still in Attempt that were created before cutoff.
	CountStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// TransactionQuery narrows FindByTransaction. Zero values are ignored.
type TransactionQuery struct {
	TransactionID string
	UserID        int64
	Statuses      []Status
	Operation     Operation
	GatewayLabel  string
}

// ReversalQuery locates a pending reversal by charge or transaction reference.
type ReversalQuery struct {
	UserID        int64
	ChargeID      string
	TransactionID string
	Amount        decimal.Decimal
	Operation     Operation
}

// Package ledger applies ledger mutations together with their outbox events.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	"github.com/cassiomorais/payrecon/internal/domain/outbox"
)

// TransactionManager runs fn in a database transaction carried by ctx.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxWriter persists outbox entries inside the caller's transaction.
type OutboxWriter interface {
	Insert(ctx context.Context, entry *outbox.Entry) error
}

// Outbox event types.
const (
	EventAttemptOpened = "attempt.opened"
)

// EventType names the outbox event for a status change, e.g. "attempt.paid".
func EventType(s attempt.Status) string {
	return "attempt." + strings.ToLower(s.String())
}

// Transitioner is the single writer of ledger statuses. Every Attempt row
// leaves Attempt through Transition, which is a compare-and-set: a row
// already resolved to a different status is left alone.
type Transitioner struct {
	ledger attempt.Ledger
	outbox OutboxWriter
	tx     TransactionManager
	logger zerolog.Logger
}

func NewTransitioner(ledger attempt.Ledger, outbox OutboxWriter, tx TransactionManager, logger zerolog.Logger) *Transitioner {
	return &Transitioner{ledger: ledger, outbox: outbox, tx: tx, logger: logger}
}

// Open inserts a pending attempt and its "attempt.opened" event.
func (t *Transitioner) Open(ctx context.Context, a *attempt.PaymentAttempt) error {
	if err := a.ValidateSign(); err != nil {
		return fmt.Errorf("open attempt: %w", err)
	}
	return t.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := t.ledger.Create(txCtx, a); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		return t.outbox.Insert(txCtx, newEntry(EventAttemptOpened, a))
	})
}

// Transition moves attempt id to status and stamps f. It reports whether
// the status changed. Re-applying the current status only stamps fields.
// Only the caller that finds the row in Attempt writes an outbox event, so
// concurrent deliveries of the same confirmation publish it once.
func (t *Transitioner) Transition(ctx context.Context, id int64, status attempt.Status, f attempt.Fields) (bool, error) {
	var changed bool
	err := t.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		a, err := t.ledger.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		if !a.SignAllows(status) {
			t.logger.Warn().
				Int64("attempt_id", id).
				Str("operation", string(a.Operation)).
				Stringer("target", status).
				Msg("Amount sign does not allow status, transition skipped")
			return nil
		}

		previous, applied, err := t.ledger.UpdateStatus(txCtx, id, status, f)
		if err != nil {
			return fmt.Errorf("update attempt %d: %w", id, err)
		}
		if !applied {
			t.logger.Info().
				Int64("attempt_id", id).
				Stringer("current", previous).
				Stringer("target", status).
				Msg("Attempt already resolved, transition skipped")
			return nil
		}
		if previous != attempt.StatusAttempt {
			return nil
		}

		updated, err := t.ledger.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		changed = true
		return t.outbox.Insert(txCtx, newEntry(EventType(status), updated))
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Fail marks a pending attempt Error with reason as its comment. A row
// already resolved stays as it is.
func (t *Transitioner) Fail(ctx context.Context, id int64, reason string) error {
	_, err := t.Transition(ctx, id, attempt.StatusError, attempt.Fields{
		Comment:       reason,
		HandleComment: "Attempt failed",
	})
	return err
}

// Annotate stamps correlation fields on a row without changing its status.
func (t *Transitioner) Annotate(ctx context.Context, id int64, f attempt.Fields) error {
	return t.ledger.Annotate(ctx, id, f)
}

func newEntry(eventType string, a *attempt.PaymentAttempt) *outbox.Entry {
	return outbox.NewEntry(outbox.AggregatePaymentAttempt, strconv.FormatInt(a.ID, 10), eventType, map[string]any{
		"attempt_id":     a.ID,
		"user_id":        a.UserID,
		"store_id":       a.StoreID,
		"operation":      string(a.Operation),
		"amount":         a.Amount.StringFixed(2),
		"status":         a.Status.String(),
		"transaction_id": a.TransactionID,
		"charge_id":      a.ChargeID,
		"gateway":        a.Gateway,
	})
}

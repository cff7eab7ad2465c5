package gateway

import (
	"context"
	"errors"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/pkg/saga"
)

// Base holds what every adapter shares: its tenant config and the ledger
// flows common to all gateways.
type Base struct {
	Deps
	Config *merchant.GatewayConfig
}

func NewBase(cfg *merchant.GatewayConfig, deps Deps) Base {
	return Base{Deps: deps, Config: cfg}
}

func (b *Base) Gateway() attempt.Gateway {
	return b.Config.Gateway
}

// OpenCharge writes the pending charge row before any remote call.
func (b *Base) OpenCharge(ctx context.Context, req InitiateRequest, label string) (*attempt.PaymentAttempt, error) {
	row, err := attempt.NewCharge(req.UserID, req.StoreID, req.Amount, label, req.TempOrderNumber)
	if err != nil {
		return nil, domainErrors.Validation("invalid_amount", "Amount must be at least 0.01.")
	}
	row.MemberEmail = req.MemberEmail
	row.MemberName = req.MemberName
	if err := b.Recorder.Open(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Abandon marks a pending row Error after a failed remote call and keeps the
// failure message. Transport failures are resolved the same way: a row left
// in Attempt would match every later reversal lookup on the transaction.
func (b *Base) Abandon(ctx context.Context, id int64, cause error) {
	if pe, ok := domainErrors.AsPaymentError(cause); ok && pe.Transient() {
		b.Logger.Warn().Err(cause).Int64("attempt_id", id).Msg("Gateway did not answer, marking attempt as error")
	}
	if err := b.Recorder.Fail(context.WithoutCancel(ctx), id, FailureMessage(cause)); err != nil {
		b.Logger.Error().Err(err).Int64("attempt_id", id).Msg("Failed to mark attempt as error")
	}
}

// Reverse runs a refund or void as a saga: the pending reversal row is
// written first, then submit calls the gateway. A failed submit resolves the
// row through Abandon.
func (b *Base) Reverse(
	ctx context.Context,
	op attempt.Operation,
	req ReversalRequest,
	label string,
	submit func(ctx context.Context, row *attempt.PaymentAttempt) (*Result, error),
) (*Result, error) {
	var (
		row       *attempt.PaymentAttempt
		result    *Result
		submitErr error
	)

	s := saga.New(string(op)).
		AddStep(saga.Step{
			Name: "open reversal attempt",
			Execute: func(ctx context.Context) error {
				r, err := attempt.NewReversal(op, req.Original, req.Amount, label)
				if err != nil {
					return domainErrors.Validation("invalid_amount", "Amount must be at least 0.01.")
				}
				if err := b.Recorder.Open(ctx, r); err != nil {
					return err
				}
				row = r
				return nil
			},
			Compensate: func(ctx context.Context) error {
				b.Abandon(ctx, row.ID, submitErr)
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "submit to gateway",
			Execute: func(ctx context.Context) error {
				result, submitErr = submit(ctx, row)
				return submitErr
			},
		})

	if _, err := s.Execute(ctx); err != nil {
		b.Logger.Warn().Err(err).Str("operation", string(op)).Str("transaction_id", req.Original.TransactionID).Msg("Reversal failed")
		if submitErr != nil {
			return nil, submitErr
		}
		return nil, err
	}
	result.AttemptID = row.ID
	return result, nil
}

// LocalDetails loads the ledger row for a transaction or reversal id.
func (b *Base) LocalDetails(ctx context.Context, req DetailsRequest) (*Details, error) {
	row, err := b.Ledger.FindByReference(ctx, req.UserID, req.TransactionID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrAttemptNotFound) {
			return nil, domainErrors.NotFound("transaction_not_found", "Transaction not found.")
		}
		return nil, err
	}
	return &Details{
		Attempt:    row,
		ChargeID:   row.ChargeID,
		CardLast4:  row.CardLast4,
		CardExpiry: row.CardExpiry,
	}, nil
}

// FailureMessage is the text stored on a failed attempt.
func FailureMessage(err error) string {
	if err == nil {
		return "Unknown gateway error"
	}
	if pe, ok := domainErrors.AsPaymentError(err); ok {
		return pe.Message
	}
	return err.Error()
}

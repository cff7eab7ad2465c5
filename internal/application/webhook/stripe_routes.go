package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway/stripe"
)

const (
	stripePaymentIntentCreated   = "payment_intent.created"
	stripePaymentIntentSucceeded = "payment_intent.succeeded"
	stripePaymentIntentFailed    = "payment_intent.payment_failed"
	stripePaymentIntentCanceled  = "payment_intent.canceled"
	stripeChargeSucceeded        = "charge.succeeded"
	stripeRefundCreated          = "refund.created"
	stripeRefundUpdated          = "refund.updated"
	stripeRefundFailed           = "refund.failed"
	stripeReaderActionSucceeded  = "terminal.reader.action_succeeded"
)

func (p *Processor) parseStripe(d Delivery, creds merchant.Credentials) (*inbound, error) {
	ev, err := stripe.VerifyEvent(d.Body, d.Headers.Get(stripe.SignatureHeader), creds.Get(merchant.KeyWebhookSecret))
	if err != nil {
		return nil, err
	}

	var owner struct {
		Metadata stripe.Metadata `json:"metadata"`
	}
	if len(ev.Object) > 0 {
		if err := json.Unmarshal(ev.Object, &owner); err != nil {
			return nil, domainErrors.Validation("invalid_payload", "Invalid event object")
		}
	}

	return &inbound{
		eventID:   ev.ID,
		eventType: ev.Type,
		tenantID:  p.metaID(owner.Metadata, stripe.MetaUserID),
		route: func(ctx context.Context) (Outcome, error) {
			return p.routeStripe(ctx, d.UserID, ev)
		},
	}, nil
}

func (p *Processor) routeStripe(ctx context.Context, userID int64, ev *stripe.Event) (Outcome, error) {
	switch ev.Type {
	case stripePaymentIntentCreated:
		return p.stripeIntentCreated(ctx, userID, ev.Object)
	case stripePaymentIntentSucceeded:
		return p.stripeIntentSucceeded(ctx, userID, ev.Object)
	case stripePaymentIntentFailed:
		return p.stripeIntentFailed(ctx, userID, ev.Object)
	case stripePaymentIntentCanceled:
		return p.stripeIntentCanceled(ctx, userID, ev.Object)
	case stripeChargeSucceeded:
		return p.stripeChargeSucceeded(ctx, userID, ev.Object)
	case stripeRefundCreated, stripeRefundUpdated, stripeRefundFailed:
		return p.stripeRefund(ctx, userID, ev.Type, ev.Object)
	case stripeReaderActionSucceeded:
		return p.stripeReaderSucceeded(ctx, userID, ev.Object)
	}
	return ignored(ev.Type), nil
}

// metaID reads an id from event metadata. A malformed value reads as 0, so
// the caller falls back to its reference lookup.
func (p *Processor) metaID(meta stripe.Metadata, key string) int64 {
	n, err := meta.Int64(key)
	if err != nil {
		p.logger.Debug().Err(err).Str("value", meta[key]).Msg("Ignoring malformed Stripe metadata")
	}
	return n
}

// chargeForIntent finds the charge attempt behind an intent, by the attempt
// id stamped in metadata or else by the intent id.
func (p *Processor) chargeForIntent(ctx context.Context, userID int64, meta stripe.Metadata, intentID string) (*attempt.PaymentAttempt, error) {
	a, err := p.attemptFor(ctx, userID, p.metaID(meta, stripe.MetaPaymentAttemptID), attempt.OperationCharge)
	if err == nil || !errors.Is(err, domainErrors.ErrAttemptNotFound) || intentID == "" {
		return a, err
	}
	return p.ledger.FindByTransaction(ctx, attempt.TransactionQuery{
		TransactionID: intentID,
		UserID:        userID,
		Operation:     attempt.OperationCharge,
	})
}

func (p *Processor) stripeIntentCreated(ctx context.Context, userID int64, raw json.RawMessage) (Outcome, error) {
	pi, err := decode[stripe.PaymentIntentObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	a, err := p.chargeForIntent(ctx, userID, pi.Metadata, pi.ID)
	if err != nil {
		return unmatched(err, "No attempt for payment intent %s", pi.ID)
	}
	if a.Status != attempt.StatusAttempt {
		return Outcome{Result: ResultNoop, AttemptID: a.ID, Message: fmt.Sprintf("Attempt already %s", a.Status)}, nil
	}
	return p.annotate(ctx, a, attempt.Fields{
		TransactionID: pi.ID,
		Comment:       "Payment intent created: " + pi.ID,
	})
}

func (p *Processor) stripeIntentSucceeded(ctx context.Context, userID int64, raw json.RawMessage) (Outcome, error) {
	pi, err := decode[stripe.PaymentIntentObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	a, err := p.chargeForIntent(ctx, userID, pi.Metadata, pi.ID)
	if err != nil {
		return unmatched(err, "No attempt for payment intent %s", pi.ID)
	}
	return p.transition(ctx, a, attempt.StatusPaid, attempt.Fields{
		TransactionID: pi.ID,
		ChargeID:      pi.LatestCharge,
		Gateway:       pi.Metadata[stripe.MetaPaymentSource],
		Comment:       "PaymentIntent succeeded for " + pi.ID,
		HandleComment: "Payment successful",
	})
}

func (p *Processor) stripeIntentFailed(ctx context.Context, userID int64, raw json.RawMessage) (Outcome, error) {
	pi, err := decode[stripe.PaymentIntentObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	a, err := p.chargeForIntent(ctx, userID, pi.Metadata, pi.ID)
	if err != nil {
		return unmatched(err, "No attempt for payment intent %s", pi.ID)
	}
	reason := "PaymentIntent failed for " + pi.ID
	if pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
		reason = pi.LastPaymentError.Message
	}
	return p.transition(ctx, a, attempt.StatusError, attempt.Fields{
		TransactionID: pi.ID,
		Comment:       reason,
		HandleComment: "Payment attempt failed",
	})
}

// stripeIntentCanceled settles the pending void on the intent. An intent
// canceled before it was ever paid fails its pending charge instead.
func (p *Processor) stripeIntentCanceled(ctx context.Context, userID int64, raw json.RawMessage) (Outcome, error) {
	pi, err := decode[stripe.PaymentIntentObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	amount := stripe.FromCents(pi.Amount)

	void, err := p.ledger.FindPendingReversal(ctx, attempt.ReversalQuery{
		UserID:        userID,
		TransactionID: pi.ID,
		Amount:        amount.Neg(),
		Operation:     attempt.OperationVoid,
	})
	if err == nil {
		return p.transition(ctx, void, attempt.StatusVoid, attempt.Fields{
			RefundVoidTransactionID: pi.ID,
			Comment:                 fmt.Sprintf("Payment intent %s canceled for $%s", pi.ID, amount.StringFixed(2)),
			HandleComment:           "Void Successful",
		})
	}
	if !errors.Is(err, domainErrors.ErrAttemptNotFound) {
		return Outcome{}, err
	}

	charge, err := p.chargeForIntent(ctx, userID, pi.Metadata, pi.ID)
	if err != nil {
		return unmatched(err, "No pending void or charge for payment intent %s", pi.ID)
	}
	if charge.Status != attempt.StatusAttempt {
		return Outcome{Result: ResultNoop, AttemptID: charge.ID, Message: fmt.Sprintf("Attempt already %s", charge.Status)}, nil
	}
	return p.transition(ctx, charge, attempt.StatusError, attempt.Fields{
		TransactionID: pi.ID,
		Comment:       "PaymentIntent canceled before payment: " + pi.ID,
		HandleComment: "Payment attempt canceled",
	})
}

func (p *Processor) stripeChargeSucceeded(ctx context.Context, userID int64, raw json.RawMessage) (Outcome, error) {
	ch, err := decode[stripe.ChargeObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	a, err := p.chargeForIntent(ctx, userID, ch.Metadata, ch.PaymentIntent)
	if err != nil {
		return unmatched(err, "No attempt for charge %s", ch.ID)
	}
	label := ch.Metadata[stripe.MetaPaymentSource]
	if label == "" {
		label = ch.WalletLabel()
	}
	return p.transition(ctx, a, attempt.StatusPaid, attempt.Fields{
		TransactionID: ch.PaymentIntent,
		ChargeID:      ch.ID,
		Gateway:       label,
		CardLast4:     ch.CardLast4(),
		CardExpiry:    ch.CardExpiry(),
		Comment:       "Payment succeeded for payment intent " + ch.PaymentIntent,
		HandleComment: "Payment successful",
	})
}

// stripeRefund resolves refund notifications. Stripe reports the release of
// an authorization as a refund whose destination is a reversal; those settle
// the pending reversal matched by charge and amount. Ordinary refunds match
// the refund attempt stamped in metadata.
func (p *Processor) stripeRefund(ctx context.Context, userID int64, eventType string, raw json.RawMessage) (Outcome, error) {
	r, err := decode[stripe.RefundObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	amount := stripe.FromCents(r.Amount)

	var row *attempt.PaymentAttempt
	if r.IsReversal() {
		row, err = p.ledger.FindPendingReversal(ctx, attempt.ReversalQuery{
			UserID:   userID,
			ChargeID: r.Charge,
			Amount:   amount.Neg(),
		})
	} else {
		row, err = p.refundAttempt(ctx, userID, r)
	}
	if err != nil {
		return unmatched(err, "No reversal attempt for refund %s", r.ID)
	}

	success := attempt.StatusRefund
	if row.Operation == attempt.OperationVoid {
		success = attempt.StatusVoid
	}

	switch {
	case eventType == stripeRefundFailed || r.Status == "failed" || r.Status == "canceled":
		reason := "Refund failed for payment intent " + r.PaymentIntent
		if r.FailureReason != "" {
			reason += ": " + r.FailureReason
		}
		return p.transition(ctx, row, attempt.StatusError, attempt.Fields{
			RefundVoidTransactionID: r.ID,
			Comment:                 reason,
			HandleComment:           "Refund failed",
		})
	case r.Status == "succeeded":
		handle := "Refund Successful"
		if success == attempt.StatusVoid {
			handle = "Void Successful"
		}
		return p.transition(ctx, row, success, attempt.Fields{
			RefundVoidTransactionID: r.ID,
			ChargeID:                r.Charge,
			Comment:                 fmt.Sprintf("Refund successful for payment intent %s for $%s", r.PaymentIntent, amount.StringFixed(2)),
			HandleComment:           handle,
		})
	}
	if row.Status != attempt.StatusAttempt {
		return Outcome{Result: ResultNoop, AttemptID: row.ID, Message: fmt.Sprintf("Attempt already %s", row.Status)}, nil
	}
	return p.annotate(ctx, row, attempt.Fields{
		RefundVoidTransactionID: r.ID,
		Comment:                 fmt.Sprintf("Refund %s is %s", r.ID, r.Status),
	})
}

func (p *Processor) refundAttempt(ctx context.Context, userID int64, r *stripe.RefundObject) (*attempt.PaymentAttempt, error) {
	a, err := p.attemptFor(ctx, userID, p.metaID(r.Metadata, stripe.MetaRefundAttemptID), attempt.OperationRefund, attempt.OperationVoid)
	if err == nil || !errors.Is(err, domainErrors.ErrAttemptNotFound) {
		return a, err
	}
	a, err = p.ledger.FindByReference(ctx, userID, r.ID)
	if err != nil {
		return nil, err
	}
	if !a.Operation.IsReversal() {
		return nil, domainErrors.ErrAttemptNotFound
	}
	return a, nil
}

// stripeReaderSucceeded settles the POS attempt for the intent a terminal
// reader just processed.
func (p *Processor) stripeReaderSucceeded(ctx context.Context, userID int64, raw json.RawMessage) (Outcome, error) {
	rd, err := decode[stripe.ReaderObject](raw)
	if err != nil {
		return Outcome{}, err
	}
	if rd.Action == nil || rd.Action.Type != "process_payment_intent" ||
		rd.Action.ProcessPaymentIntent == nil || rd.Action.ProcessPaymentIntent.PaymentIntent == "" {
		return ignored(stripeReaderActionSucceeded), nil
	}
	intentID := rd.Action.ProcessPaymentIntent.PaymentIntent

	a, err := p.ledger.FindByTransaction(ctx, attempt.TransactionQuery{
		TransactionID: intentID,
		UserID:        userID,
		Operation:     attempt.OperationCharge,
		GatewayLabel:  attempt.LabelStripePOS,
	})
	if err != nil {
		return unmatched(err, "No POS attempt for payment intent %s", intentID)
	}
	return p.transition(ctx, a, attempt.StatusPaid, attempt.Fields{
		TransactionID: intentID,
		Comment:       fmt.Sprintf("Terminal payment processed by reader %s", rd.ID),
		HandleComment: "Payment successful",
	})
}

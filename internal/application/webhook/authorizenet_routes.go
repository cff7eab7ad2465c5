package webhook

import (
	"context"
	"fmt"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway/authorizenet"
)

func (p *Processor) parseAuthorizeNet(d Delivery, creds merchant.Credentials) (*inbound, error) {
	if err := authorizenet.VerifySignature(d.Body, d.Headers.Get(authorizenet.SignatureHeader), creds.Get(merchant.KeySigningKey)); err != nil {
		return nil, err
	}
	n, err := authorizenet.ParseNotification(d.Body)
	if err != nil {
		return nil, err
	}

	// Notifications without a parseable invoice (void and external
	// transactions) carry no tenant claim.
	var tenant int64
	inv, invErr := attempt.ParseInvoice(n.Payload.InvoiceNumber)
	if invErr == nil {
		tenant = inv.UserID
	}

	return &inbound{
		eventID:   n.EventID(),
		eventType: n.EventType,
		tenantID:  tenant,
		route: func(ctx context.Context) (Outcome, error) {
			return p.routeAuthorizeNet(ctx, d.UserID, n, inv, invErr)
		},
	}, nil
}

func (p *Processor) routeAuthorizeNet(ctx context.Context, userID int64, n *authorizenet.Notification, inv attempt.Invoice, invErr error) (Outcome, error) {
	switch n.EventType {
	case authorizenet.EventAuthCaptureCreated:
		if invErr != nil {
			return unmatchedInvoice(n)
		}
		return p.anetCaptured(ctx, userID, n, inv)
	case authorizenet.EventVoidCreated:
		return p.anetVoided(ctx, userID, n)
	case authorizenet.EventRefundCreated:
		if invErr != nil {
			return unmatchedInvoice(n)
		}
		return p.anetRefunded(ctx, userID, n, inv)
	}
	return ignored(n.EventType), nil
}

func unmatchedInvoice(n *authorizenet.Notification) (Outcome, error) {
	return Outcome{
		Result:  ResultUnmatched,
		Message: fmt.Sprintf("Invalid invoice number %q for transaction %s", n.Payload.InvoiceNumber, n.Payload.ID),
	}, nil
}

func (p *Processor) anetCaptured(ctx context.Context, userID int64, n *authorizenet.Notification, inv attempt.Invoice) (Outcome, error) {
	a, err := p.attemptFor(ctx, userID, inv.AttemptID, attempt.OperationCharge)
	if err != nil {
		return unmatched(err, "No charge attempt %d for transaction %s", inv.AttemptID, n.Payload.ID)
	}
	if !n.Payload.Approved() {
		return p.transition(ctx, a, attempt.StatusError, attempt.Fields{
			TransactionID: n.Payload.ID,
			Comment:       fmt.Sprintf("Payment declined with response code %d", n.Payload.ResponseCode),
			HandleComment: "Payment attempt failed",
		})
	}
	return p.transition(ctx, a, attempt.StatusPaid, attempt.Fields{
		TransactionID: n.Payload.ID,
		ChargeID:      n.Payload.AuthCode,
		Comment:       "Payment captured with Transaction ID " + n.Payload.ID,
		HandleComment: "Payment successful",
	})
}

// anetVoided settles the pending void on the transaction. Voids reverse the
// full authorized amount.
func (p *Processor) anetVoided(ctx context.Context, userID int64, n *authorizenet.Notification) (Outcome, error) {
	amount := n.Payload.AuthAmount.Round(2)
	row, err := p.ledger.FindPendingReversal(ctx, attempt.ReversalQuery{
		UserID:        userID,
		TransactionID: n.Payload.ID,
		Amount:        amount.Neg(),
		Operation:     attempt.OperationVoid,
	})
	if err != nil {
		return unmatched(err, "No pending void for transaction %s", n.Payload.ID)
	}
	return p.transition(ctx, row, attempt.StatusVoid, attempt.Fields{
		RefundVoidTransactionID: n.Payload.ID,
		Comment:                 fmt.Sprintf("Payment voided with transaction ID %s for $%s", n.Payload.ID, amount.StringFixed(2)),
		HandleComment:           "Void Successful",
	})
}

func (p *Processor) anetRefunded(ctx context.Context, userID int64, n *authorizenet.Notification, inv attempt.Invoice) (Outcome, error) {
	a, err := p.attemptFor(ctx, userID, inv.AttemptID, attempt.OperationRefund)
	if err != nil {
		return unmatched(err, "No refund attempt %d for transaction %s", inv.AttemptID, n.Payload.ID)
	}
	if !n.Payload.Approved() {
		return p.transition(ctx, a, attempt.StatusError, attempt.Fields{
			RefundVoidTransactionID: n.Payload.ID,
			Comment:                 fmt.Sprintf("Refund declined with response code %d", n.Payload.ResponseCode),
			HandleComment:           "Refund failed",
		})
	}
	return p.transition(ctx, a, attempt.StatusRefund, attempt.Fields{
		RefundVoidTransactionID: n.Payload.ID,
		Comment:                 fmt.Sprintf("Payment refunded with transaction ID %s for $%s", n.Payload.ID, n.Payload.AuthAmount.StringFixed(2)),
		HandleComment:           "Refund Successful",
	})
}

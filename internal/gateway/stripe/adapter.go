package stripe

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v81"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway"
)

// Metadata keys stamped on Stripe objects and read back from webhooks.
const (
	MetaPaymentAttemptID      = "payment_attempt_id"
	MetaUserID                = "user_id"
	MetaStoreID               = "store_id"
	MetaInvoiceNumber         = "invoice_number"
	MetaRefundAttemptID       = "refund_attempt_id"
	MetaOriginalTransactionID = "original_transaction_id"
	MetaIsExternal            = "is_external"
	MetaPaymentSource         = "payment_source"
)

const pendingMessage = "Payment initiated, awaiting webhook confirmation"

// Adapter is the Stripe gateway for one tenant.
type Adapter struct {
	gateway.Base
	api API
}

var (
	_ gateway.Adapter          = (*Adapter)(nil)
	_ gateway.WebhookRegistrar = (*Adapter)(nil)
)

func New(cfg *merchant.GatewayConfig, deps gateway.Deps, api API) *Adapter {
	return &Adapter{Base: gateway.NewBase(cfg, deps), api: api}
}

// Register adds Stripe to reg. newAPI builds the SDK client from a secret key.
func Register(reg *gateway.Registry, newAPI func(secretKey string) API) {
	reg.Register(attempt.GatewayStripe, []string{merchant.KeySecretKey},
		func(cfg *merchant.GatewayConfig, deps gateway.Deps) (gateway.Adapter, error) {
			return New(cfg, deps, newAPI(cfg.Credentials.Get(merchant.KeySecretKey))), nil
		})
}

func (a *Adapter) currency() string {
	if a.Settings.Currency == "" {
		return string(stripe.CurrencyUSD)
	}
	return strings.ToLower(a.Settings.Currency)
}

func (a *Adapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Result, error) {
	if req.Descriptor == gateway.DescriptorPOS {
		return a.findTerminalPayment(ctx, req)
	}
	if strings.TrimSpace(req.Token) == "" {
		return nil, domainErrors.Validation("missing_token", "Payment token is required.")
	}

	label := req.GatewayLabel
	if label == "" {
		label = attempt.GatewayStripe.Label()
	}
	row, err := a.OpenCharge(ctx, req, label)
	if err != nil {
		return nil, err
	}

	pi, err := gateway.Call(ctx, a.Deps, "payment_intent.create", func(ctx context.Context) (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{
			Amount:      stripe.Int64(toCents(row.Amount)),
			Currency:    stripe.String(a.currency()),
			Description: stripe.String("Payment for order"),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled:        stripe.Bool(true),
				AllowRedirects: stripe.String("never"),
			},
		}
		params.Context = ctx
		params.AddMetadata(MetaPaymentAttemptID, strconv.FormatInt(row.ID, 10))
		params.AddMetadata(MetaUserID, strconv.FormatInt(req.UserID, 10))
		params.AddMetadata(MetaStoreID, strconv.FormatInt(req.StoreID, 10))
		params.AddMetadata(MetaInvoiceNumber, row.Invoice().String())
		pi, err := a.api.CreatePaymentIntent(params)
		return pi, mapError(err)
	})
	if err != nil {
		a.Abandon(ctx, row.ID, err)
		return nil, err
	}
	if err := a.Recorder.Annotate(ctx, row.ID, attempt.Fields{TransactionID: pi.ID}); err != nil {
		a.Logger.Error().Err(err).Int64("attempt_id", row.ID).Msg("Failed to stamp payment intent id")
	}

	confirmed, err := gateway.Call(ctx, a.Deps, "payment_intent.confirm", func(ctx context.Context) (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentConfirmParams{
			ErrorOnRequiresAction: stripe.Bool(true),
		}
		params.Context = ctx
		params.AddExtra("payment_method_data[type]", "card")
		params.AddExtra("payment_method_data[card][token]", req.Token)
		pi, err := a.api.ConfirmPaymentIntent(pi.ID, params)
		return pi, mapError(err)
	})
	if err != nil {
		a.Abandon(ctx, row.ID, err)
		return nil, err
	}

	chargeID := ""
	if confirmed.LatestCharge != nil {
		chargeID = confirmed.LatestCharge.ID
	}
	if chargeID != "" {
		if err := a.Recorder.Annotate(ctx, row.ID, attempt.Fields{ChargeID: chargeID}); err != nil {
			a.Logger.Error().Err(err).Int64("attempt_id", row.ID).Msg("Failed to stamp charge id")
		}
	}

	return &gateway.Result{
		AttemptID:     row.ID,
		TransactionID: confirmed.ID,
		ChargeID:      chargeID,
		Gateway:       label,
		Status:        string(confirmed.Status),
		Message:       pendingMessage,
		Amount:        row.Amount,
	}, nil
}

// CreateTerminalIntent opens a POS attempt and the PaymentIntent a Stripe
// reader will collect. The reader's webhook settles it.
func (a *Adapter) CreateTerminalIntent(ctx context.Context, req gateway.InitiateRequest) (*gateway.Result, error) {
	row, err := a.OpenCharge(ctx, req, attempt.LabelStripePOS)
	if err != nil {
		return nil, err
	}

	pi, err := gateway.Call(ctx, a.Deps, "payment_intent.create", func(ctx context.Context) (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{
			Amount:             stripe.Int64(toCents(row.Amount)),
			Currency:           stripe.String(a.currency()),
			PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
			CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		}
		params.Context = ctx
		params.AddMetadata(MetaPaymentAttemptID, strconv.FormatInt(row.ID, 10))
		params.AddMetadata(MetaUserID, strconv.FormatInt(req.UserID, 10))
		params.AddMetadata(MetaPaymentSource, attempt.LabelStripePOS)
		pi, err := a.api.CreatePaymentIntent(params)
		return pi, mapError(err)
	})
	if err != nil {
		a.Abandon(ctx, row.ID, err)
		return nil, err
	}
	if err := a.Recorder.Annotate(ctx, row.ID, attempt.Fields{TransactionID: pi.ID, Comment: string(pi.Status)}); err != nil {
		return nil, err
	}

	return &gateway.Result{
		AttemptID:     row.ID,
		TransactionID: pi.ID,
		Gateway:       attempt.LabelStripePOS,
		Status:        string(pi.Status),
		Note:          pi.ClientSecret,
		Amount:        row.Amount,
	}, nil
}

// findTerminalPayment returns the POS attempt whose intent id is carried
// base64-encoded in the token.
func (a *Adapter) findTerminalPayment(ctx context.Context, req gateway.InitiateRequest) (*gateway.Result, error) {
	raw, err := base64.StdEncoding.DecodeString(req.Token)
	if err != nil || len(raw) == 0 {
		return nil, domainErrors.Validation("invalid_payment_method", "Invalid payment_method_id")
	}
	row, err := a.Ledger.FindByTransaction(ctx, attempt.TransactionQuery{
		TransactionID: string(raw),
		UserID:        req.UserID,
		GatewayLabel:  attempt.LabelStripePOS,
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrAttemptNotFound) {
			return nil, domainErrors.NotFound("pos_payment_not_found", "POS Payment not found or not processed yet. Please try again.")
		}
		return nil, err
	}
	return &gateway.Result{
		AttemptID:     row.ID,
		TransactionID: row.TransactionID,
		ChargeID:      row.ChargeID,
		Gateway:       row.Gateway,
		Status:        row.Status.String(),
		Message:       row.Comment,
		Amount:        row.Amount,
		Settled:       row.Status.IsTerminal(),
	}, nil
}

func (a *Adapter) reversalLabel(orig *attempt.Original) string {
	if orig.Gateway != "" {
		return orig.Gateway
	}
	return attempt.GatewayStripe.Label()
}

func (a *Adapter) Refund(ctx context.Context, req gateway.ReversalRequest) (*gateway.Result, error) {
	orig := req.Original
	label := a.reversalLabel(orig)

	return a.Reverse(ctx, attempt.OperationRefund, req, label, func(ctx context.Context, row *attempt.PaymentAttempt) (*gateway.Result, error) {
		rf, err := gateway.Call(ctx, a.Deps, "refund.create", func(ctx context.Context) (*stripe.Refund, error) {
			params := &stripe.RefundParams{Amount: stripe.Int64(toCents(req.Amount))}
			if strings.HasPrefix(orig.ChargeID, "ch_") {
				params.Charge = stripe.String(orig.ChargeID)
			} else {
				params.PaymentIntent = stripe.String(orig.TransactionID)
			}
			params.Context = ctx
			params.AddMetadata(MetaUserID, strconv.FormatInt(row.UserID, 10))
			params.AddMetadata(MetaStoreID, strconv.FormatInt(row.StoreID, 10))
			params.AddMetadata(MetaOriginalTransactionID, orig.TransactionID)
			params.AddMetadata(MetaRefundAttemptID, strconv.FormatInt(row.ID, 10))
			params.AddMetadata(MetaIsExternal, strconv.FormatBool(orig.IsExternal))
			rf, err := a.api.CreateRefund(params)
			return rf, mapError(err)
		})
		if err != nil {
			return nil, err
		}

		chargeID := orig.ChargeID
		if rf.Charge != nil && rf.Charge.ID != "" {
			chargeID = rf.Charge.ID
		}
		if err := a.Recorder.Annotate(ctx, row.ID, attempt.Fields{RefundVoidTransactionID: rf.ID, ChargeID: chargeID}); err != nil {
			a.Logger.Error().Err(err).Int64("attempt_id", row.ID).Msg("Failed to stamp refund id")
		}

		note := ""
		if rf.BalanceTransaction != nil {
			note = rf.BalanceTransaction.ID
		}
		return &gateway.Result{
			TransactionID:     orig.TransactionID,
			RefundID:          rf.ID,
			ChargeID:          chargeID,
			TransactionStatus: attempt.OperationRefund.TransactionStatus(),
			Gateway:           label,
			Status:            string(rf.Status),
			Note:              note,
			Amount:            req.Amount,
		}, nil
	})
}

// Void cancels the PaymentIntent behind an uncaptured charge. The cancel is
// final and Stripe sends no refund event for it, so the row is settled here.
func (a *Adapter) Void(ctx context.Context, req gateway.ReversalRequest) (*gateway.Result, error) {
	orig := req.Original
	label := a.reversalLabel(orig)

	return a.Reverse(ctx, attempt.OperationVoid, req, label, func(ctx context.Context, row *attempt.PaymentAttempt) (*gateway.Result, error) {
		ch, err := a.resolveCharge(ctx, orig.ChargeID, orig.TransactionID)
		if err != nil {
			return nil, err
		}
		if ch.Captured {
			return nil, domainErrors.GatewayBusiness("void_failed", "Transaction is already captured, cannot void.", nil).
				WithStatus(http.StatusConflict)
		}

		intentID := orig.TransactionID
		if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
			intentID = ch.PaymentIntent.ID
		}
		pi, err := gateway.Call(ctx, a.Deps, "payment_intent.cancel", func(ctx context.Context) (*stripe.PaymentIntent, error) {
			params := &stripe.PaymentIntentCancelParams{
				CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
			}
			params.Context = ctx
			pi, err := a.api.CancelPaymentIntent(intentID, params)
			return pi, mapError(err)
		})
		if err != nil {
			return nil, err
		}

		// A failure here is repaired by the payment_intent.canceled webhook.
		if _, err := a.Recorder.Transition(ctx, row.ID, attempt.StatusVoid, attempt.Fields{
			RefundVoidTransactionID: pi.ID,
			ChargeID:                ch.ID,
			Comment:                 "Void completed",
			HandleComment:           "Void",
		}); err != nil {
			a.Logger.Error().Err(err).Int64("attempt_id", row.ID).Msg("Failed to settle void after cancel")
		}

		return &gateway.Result{
			TransactionID:     orig.TransactionID,
			RefundID:          strconv.FormatInt(row.ID, 10),
			ChargeID:          ch.ID,
			TransactionStatus: attempt.OperationVoid.TransactionStatus(),
			Gateway:           label,
			Status:            string(pi.Status),
			Note:              pi.ID,
			Amount:            req.Amount,
			Settled:           true,
		}, nil
	})
}

// resolveCharge loads a charge by id, or through the intent's latest charge.
func (a *Adapter) resolveCharge(ctx context.Context, chargeID, intentID string) (*stripe.Charge, error) {
	if strings.HasPrefix(chargeID, "ch_") {
		return gateway.Read(ctx, a.Deps, "charge.get", func(ctx context.Context) (*stripe.Charge, error) {
			params := &stripe.ChargeParams{}
			params.Context = ctx
			ch, err := a.api.GetCharge(chargeID, params)
			return ch, mapError(err)
		})
	}

	pi, err := gateway.Read(ctx, a.Deps, "payment_intent.get", func(ctx context.Context) (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		pi, err := a.api.GetPaymentIntent(intentID, params)
		return pi, mapError(err)
	})
	if err != nil {
		return nil, err
	}
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return nil, domainErrors.NotFound("charge_not_found",
			"No charge found for PaymentIntent: "+intentID+", make sure transaction id belongs to this user")
	}
	return pi.LatestCharge, nil
}

func (a *Adapter) ResolveExternal(ctx context.Context, transactionID string, op attempt.Operation) (*attempt.Original, error) {
	chargeID := ""
	if strings.HasPrefix(transactionID, "ch_") {
		chargeID = transactionID
	}
	ch, err := a.resolveCharge(ctx, chargeID, transactionID)
	if err != nil {
		if pe, ok := domainErrors.AsPaymentError(err); ok && pe.Kind == domainErrors.KindGatewayBusiness {
			return nil, domainErrors.NotFound("external_transaction_not_found",
				"External Stripe transaction not found: "+transactionID)
		}
		return nil, err
	}

	switch op {
	case attempt.OperationVoid:
		if !ch.Paid {
			return nil, domainErrors.BusinessRule("charge_not_paid", "Stripe charge is not paid.")
		}
		if ch.Captured {
			return nil, domainErrors.BusinessRule("charge_captured", "Stripe charge is already captured, cannot void. Use refund instead.")
		}
	default:
		if !ch.Paid || !ch.Captured {
			return nil, domainErrors.BusinessRule("charge_not_captured", "Stripe charge is not paid or not captured.")
		}
		if ch.Refunded && ch.AmountRefunded >= ch.Amount {
			return nil, domainErrors.BusinessRule("charge_fully_refunded", "Stripe charge has been fully refunded.")
		}
	}

	orig := &attempt.Original{
		TransactionID: transactionID,
		ChargeID:      ch.ID,
		Amount:        fromCents(ch.Amount),
		Status:        attempt.StatusPaid,
		Gateway:       attempt.GatewayStripe.Label(),
		IsExternal:    true,
	}
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" && !strings.HasPrefix(transactionID, "pi_") {
		orig.TransactionID = ch.PaymentIntent.ID
	}
	if pmd := ch.PaymentMethodDetails; pmd != nil && pmd.Card != nil {
		orig.CardLast4 = pmd.Card.Last4
		orig.CardExpiry = cardExpiry(pmd.Card.ExpMonth, pmd.Card.ExpYear)
	}
	return orig, nil
}

func (a *Adapter) QueryDetails(ctx context.Context, req gateway.DetailsRequest) (*gateway.Details, error) {
	details, err := a.LocalDetails(ctx, req)
	if err != nil || !req.Live {
		return details, err
	}

	intentID := details.Attempt.TransactionID
	if !strings.HasPrefix(intentID, "pi_") {
		return details, nil
	}
	pi, err := gateway.Read(ctx, a.Deps, "payment_intent.get", func(ctx context.Context) (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		pi, err := a.api.GetPaymentIntent(intentID, params)
		return pi, mapError(err)
	})
	if err != nil {
		return nil, err
	}

	details.RemoteStatus = string(pi.Status)
	amount := fromCents(pi.Amount)
	details.RemoteAmount = &amount
	if ch := pi.LatestCharge; ch != nil {
		details.ChargeID = ch.ID
		if pmd := ch.PaymentMethodDetails; pmd != nil && pmd.Card != nil {
			details.CardLast4 = pmd.Card.Last4
			details.CardExpiry = cardExpiry(pmd.Card.ExpMonth, pmd.Card.ExpYear)
		}
	}
	return details, nil
}

// cardExpiry formats an expiry as "m/yyyy".
func cardExpiry(month, year int64) string {
	if month == 0 || year == 0 {
		return ""
	}
	return strconv.FormatInt(month, 10) + "/" + strconv.FormatInt(year, 10)
}

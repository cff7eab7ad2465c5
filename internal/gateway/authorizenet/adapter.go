package authorizenet

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway"
)

// DescriptorInApp is the opaque-data descriptor used when the client sends none.
const DescriptorInApp = "COMMON.ACCEPT.INAPP.PAYMENT"

const (
	txAuthCapture = "authCaptureTransaction"
	txRefund      = "refundTransaction"
	txVoid        = "voidTransaction"

	pendingMessage = "Payment initiated, awaiting webhook confirmation"
	statusApproved = "succeeded"

	// maxInvoiceNumber is the length limit of order.invoiceNumber.
	maxInvoiceNumber = 20
)

// Settlement states reported by getTransactionDetails.
const (
	StatusSettled                   = "settledSuccessfully"
	StatusRefundSettled             = "refundSettledSuccessfully"
	StatusCapturedPendingSettlement = "capturedPendingSettlement"
	StatusAuthorizedPendingCapture  = "authorizedPendingCapture"
)

var (
	voidableStatuses   = []string{StatusAuthorizedPendingCapture, StatusCapturedPendingSettlement}
	refundableStatuses = []string{StatusSettled, StatusCapturedPendingSettlement}
	settledStatuses    = []string{StatusSettled, StatusRefundSettled}
)

// Adapter is the Authorize.net gateway for one tenant.
type Adapter struct {
	gateway.Base
	client *Client
}

var (
	_ gateway.Adapter          = (*Adapter)(nil)
	_ gateway.WebhookRegistrar = (*Adapter)(nil)
)

func New(cfg *merchant.GatewayConfig, deps gateway.Deps, client *Client) *Adapter {
	return &Adapter{Base: gateway.NewBase(cfg, deps), client: client}
}

// Register adds Authorize.net to reg. Every adapter shares httpClient.
func Register(reg *gateway.Registry, httpClient *http.Client) {
	reg.Register(attempt.GatewayAuthorizeNet, []string{merchant.KeyLoginID, merchant.KeyTransactionKey},
		func(cfg *merchant.GatewayConfig, deps gateway.Deps) (gateway.Adapter, error) {
			client := NewClient(
				BaseURL(cfg.LiveMode, deps.Settings.AuthorizeNetURL),
				cfg.Credentials.Get(merchant.KeyLoginID),
				cfg.Credentials.Get(merchant.KeyTransactionKey),
				httpClient,
			)
			return New(cfg, deps, client), nil
		})
}

// submit sends a transaction through the breaker. Money-moving calls are
// never retried.
func (a *Adapter) submit(ctx context.Context, name string, tr TransactionRequest) (*TransactionResponse, error) {
	resp, err := gateway.Call(ctx, a.Deps, name, func(ctx context.Context) (*CreateTransactionResponse, error) {
		resp, err := a.client.CreateTransaction(ctx, tr)
		if err != nil {
			return nil, transportError(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return interpret(resp)
}

// transactionDetails looks a transaction up, retrying transport failures.
func (a *Adapter) transactionDetails(ctx context.Context, transID string) (*TransactionDetails, error) {
	return gateway.Read(ctx, a.Deps, "transaction.details", func(ctx context.Context) (*TransactionDetails, error) {
		resp, err := a.client.GetTransactionDetails(ctx, transID)
		if err != nil {
			return nil, transportError(err)
		}
		if resp.Messages.ResultCode != resultOK || resp.Transaction == nil {
			m, _ := resp.Messages.First()
			if m.Code == "" {
				m = Message{Code: "transaction_not_found", Text: "Transaction not found or invalid: " + transID}
			}
			return nil, messageError(m)
		}
		return resp.Transaction, nil
	})
}

func (a *Adapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Result, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, domainErrors.Validation("missing_token", "Payment token is required.")
	}

	label := req.GatewayLabel
	if label == "" {
		label = attempt.GatewayAuthorizeNet.Label()
	}
	row, err := a.OpenCharge(ctx, req, label)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(req.Token)
	if err != nil {
		a.Logger.Error().Int64("attempt_id", row.ID).Str("temp_order_number", req.TempOrderNumber).Msg("Failed to decode nonce")
		perr := domainErrors.Validation("invalid_nonce", "Invalid payment nonce format")
		a.Abandon(ctx, row.ID, perr)
		return nil, perr
	}
	descriptor := req.Descriptor
	if descriptor == "" {
		descriptor = DescriptorInApp
	}

	tx, err := a.submit(ctx, "transaction.auth_capture", TransactionRequest{
		TransactionType: txAuthCapture,
		Amount:          row.Amount.StringFixed(2),
		Payment:         &Payment{OpaqueData: &OpaqueData{DataDescriptor: descriptor, DataValue: string(nonce)}},
		Order:           &Order{InvoiceNumber: row.Invoice().Fit(maxInvoiceNumber), Description: "Payment for order"},
		Customer:        &Customer{Type: "individual", ID: strconv.FormatInt(req.UserID, 10)},
		BillTo:          &BillTo{FirstName: req.MemberName, Country: "USA"},
	})
	if tx != nil {
		a.stamp(ctx, row.ID, attempt.Fields{TransactionID: tx.TransID, ChargeID: tx.AuthCode, CardLast4: last4(tx.AccountNumber)})
	}
	if err != nil {
		a.Abandon(ctx, row.ID, err)
		return nil, err
	}

	return &gateway.Result{
		AttemptID:     row.ID,
		TransactionID: tx.TransID,
		ChargeID:      tx.AuthCode,
		Gateway:       label,
		Status:        attempt.StatusAttempt.String(),
		Message:       pendingMessage,
		Amount:        row.Amount,
	}, nil
}

func (a *Adapter) stamp(ctx context.Context, id int64, f attempt.Fields) {
	if f == (attempt.Fields{}) {
		return
	}
	if err := a.Recorder.Annotate(ctx, id, f); err != nil {
		a.Logger.Error().Err(err).Int64("attempt_id", id).Msg("Failed to stamp transaction ids")
	}
}

func (a *Adapter) reversalLabel(orig *attempt.Original) string {
	if orig.Gateway != "" {
		return orig.Gateway
	}
	return attempt.GatewayAuthorizeNet.Label()
}

// Refund credits the card behind the original transaction. Authorize.net
// needs the masked card from the original's details.
func (a *Adapter) Refund(ctx context.Context, req gateway.ReversalRequest) (*gateway.Result, error) {
	orig := req.Original

	return a.Reverse(ctx, attempt.OperationRefund, req, a.reversalLabel(orig), func(ctx context.Context, row *attempt.PaymentAttempt) (*gateway.Result, error) {
		detail, err := a.transactionDetails(ctx, orig.TransactionID)
		if err != nil {
			return nil, err
		}
		if detail.Payment == nil || detail.Payment.CreditCard == nil {
			return nil, domainErrors.GatewayBusiness("unsupported_payment_method", "Unsupported payment method for refund", nil)
		}

		tx, err := a.submit(ctx, "transaction.refund", TransactionRequest{
			TransactionType: txRefund,
			Amount:          req.Amount.Abs().StringFixed(2),
			Payment: &Payment{CreditCard: &CreditCard{
				CardNumber:     detail.Payment.CreditCard.CardNumber,
				ExpirationDate: detail.Payment.CreditCard.ExpirationDate,
			}},
			RefTransID: orig.TransactionID,
			Order:      &Order{InvoiceNumber: row.Invoice().Fit(maxInvoiceNumber)},
		})
		if tx != nil {
			a.stamp(ctx, row.ID, attempt.Fields{RefundVoidTransactionID: tx.TransID})
		}
		if err != nil {
			return nil, err
		}

		return &gateway.Result{
			TransactionID:     orig.TransactionID,
			RefundID:          tx.TransID,
			ChargeID:          orig.ChargeID,
			TransactionStatus: attempt.OperationRefund.TransactionStatus(),
			Gateway:           attempt.GatewayAuthorizeNet.Label(),
			Status:            statusApproved,
			Note:              tx.AuthCode,
			Amount:            req.Amount,
		}, nil
	})
}

// Void cancels an unsettled transaction. Settled transactions must be refunded.
func (a *Adapter) Void(ctx context.Context, req gateway.ReversalRequest) (*gateway.Result, error) {
	orig := req.Original

	return a.Reverse(ctx, attempt.OperationVoid, req, a.reversalLabel(orig), func(ctx context.Context, row *attempt.PaymentAttempt) (*gateway.Result, error) {
		detail, err := a.transactionDetails(ctx, orig.TransactionID)
		if err != nil {
			return nil, err
		}
		if slices.Contains(settledStatuses, detail.TransactionStatus) {
			return nil, domainErrors.GatewayBusiness(codeAlreadySettled,
				fmt.Sprintf("Transaction with ID %s is already settled. Cannot void, try refund instead.", orig.TransactionID), nil).
				WithStatus(http.StatusConflict)
		}

		tx, err := a.submit(ctx, "transaction.void", TransactionRequest{
			TransactionType: txVoid,
			RefTransID:      orig.TransactionID,
			Order:           &Order{InvoiceNumber: row.Invoice().Fit(maxInvoiceNumber)},
		})
		if tx != nil {
			a.stamp(ctx, row.ID, attempt.Fields{RefundVoidTransactionID: tx.TransID})
		}
		if err != nil {
			return nil, err
		}

		return &gateway.Result{
			TransactionID:     orig.TransactionID,
			RefundID:          tx.TransID,
			ChargeID:          orig.ChargeID,
			TransactionStatus: attempt.OperationVoid.TransactionStatus(),
			Gateway:           attempt.GatewayAuthorizeNet.Label(),
			Status:            statusApproved,
			Note:              tx.AuthCode,
			Amount:            req.Amount,
		}, nil
	})
}

func (a *Adapter) ResolveExternal(ctx context.Context, transactionID string, op attempt.Operation) (*attempt.Original, error) {
	detail, err := a.transactionDetails(ctx, transactionID)
	if err != nil {
		if pe, ok := domainErrors.AsPaymentError(err); ok && pe.Kind == domainErrors.KindGatewayBusiness {
			return nil, domainErrors.NotFound("external_transaction_not_found",
				fmt.Sprintf("External transaction not found or invalid: %s. Error: %s", transactionID, pe.Message))
		}
		return nil, err
	}

	valid, verb := refundableStatuses, "refunded"
	if op == attempt.OperationVoid {
		valid, verb = voidableStatuses, "voided"
	}
	if !slices.Contains(valid, detail.TransactionStatus) {
		return nil, domainErrors.BusinessRule("invalid_transaction_status",
			fmt.Sprintf("Transaction cannot be %s. Transaction status is already %s", verb, detail.TransactionStatus))
	}

	amount := detail.SettleAmount
	if amount.IsZero() {
		amount = detail.AuthAmount
	}
	orig := &attempt.Original{
		TransactionID: transactionID,
		ChargeID:      detail.AuthCode,
		Amount:        amount,
		Status:        attempt.StatusPaid,
		Gateway:       attempt.GatewayAuthorizeNet.Label(),
		IsExternal:    true,
	}
	if p := detail.Payment; p != nil && p.CreditCard != nil {
		orig.CardLast4 = last4(p.CreditCard.CardNumber)
	}
	return orig, nil
}

func (a *Adapter) QueryDetails(ctx context.Context, req gateway.DetailsRequest) (*gateway.Details, error) {
	details, err := a.LocalDetails(ctx, req)
	if err != nil || !req.Live {
		return details, err
	}

	detail, err := a.transactionDetails(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	details.RemoteStatus = detail.TransactionStatus
	amount := detail.SettleAmount
	if amount.IsZero() {
		amount = detail.AuthAmount
	}
	details.RemoteAmount = &amount
	if detail.AuthCode != "" {
		details.ChargeID = detail.AuthCode
	}
	if p := detail.Payment; p != nil && p.CreditCard != nil {
		details.CardLast4 = last4(p.CreditCard.CardNumber)
	}
	return details, nil
}

// last4 trims a masked account number such as "XXXX1111".
func last4(masked string) string {
	masked = strings.TrimSpace(masked)
	if len(masked) <= 4 {
		return masked
	}
	return masked[len(masked)-4:]
}

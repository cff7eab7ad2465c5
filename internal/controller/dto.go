package controller

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cassiomorais/payrecon/internal/application/payment"
	"github.com/cassiomorais/payrecon/internal/application/webhook"
	"github.com/cassiomorais/payrecon/internal/gateway"
)

// --- Request DTOs ---
// Amounts are decoded as decimals and accept JSON numbers or strings.

// PayRequest holds the input for a charge. Token is the Stripe payment
// method or the Authorize.net opaque data value; data_descriptor
// "POS_PAY" marks a payment already collected by a Stripe reader.
type PayRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Token           string          `json:"token" validate:"required,max=4096"`
	DataDescriptor  string          `json:"data_descriptor" validate:"max=128"`
	TempOrderNumber string          `json:"temp_order_number" validate:"omitempty,alphanum,max=20"`
}

func (r PayRequest) command() payment.PayCommand {
	return payment.PayCommand{
		Amount:          r.Amount,
		Token:           r.Token,
		Descriptor:      r.DataDescriptor,
		TempOrderNumber: r.TempOrderNumber,
	}
}

// TerminalIntentRequest opens a card-present payment for a reader.
type TerminalIntentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	TempOrderNumber string          `json:"temp_order_number" validate:"omitempty,alphanum,max=20"`
}

// ReversalRequest refunds or voids a transaction. Amount is ignored for
// voids; a missing amount refunds what remains.
type ReversalRequest struct {
	TransactionID string           `json:"transaction_id" validate:"required,max=255"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// --- Response DTOs ---

// PaymentResponse is the synchronous answer to a charge.
type PaymentResponse struct {
	Success           bool   `json:"success"`
	AttemptID         int64  `json:"attempt_id"`
	TransactionID     string `json:"transaction_id,omitempty"`
	ChargeID          string `json:"charge_id,omitempty"`
	TransactionStatus string `json:"transaction_status,omitempty"`
	Gateway           string `json:"gateway"`
	Status            string `json:"status,omitempty"`
	Message           string `json:"message,omitempty"`
	Amount            string `json:"amount"`
	Settled           bool   `json:"settled"`
	// ClientSecret is set for terminal intents only.
	ClientSecret string `json:"client_secret,omitempty"`
}

// ReversalResponse is the synchronous answer to a refund or void.
type ReversalResponse struct {
	Success             bool    `json:"success"`
	AttemptID           int64   `json:"attempt_id"`
	RefundID            string  `json:"refund_id,omitempty"`
	ChargeID            string  `json:"charge_id,omitempty"`
	TransactionStatus   string  `json:"transaction_status,omitempty"`
	Gateway             string  `json:"gateway"`
	Status              string  `json:"status,omitempty"`
	Message             string  `json:"message,omitempty"`
	RefundedAmount      string  `json:"refunded_amount"`
	RemainingRefundable *string `json:"remaining_refundable,omitempty"`
	Settled             bool    `json:"settled"`
}

// AttemptResponse is one ledger row.
type AttemptResponse struct {
	ID                      int64  `json:"id"`
	Operation               string `json:"operation"`
	Amount                  string `json:"amount"`
	Status                  string `json:"status"`
	TransactionID           string `json:"transaction_id"`
	RefundVoidTransactionID string `json:"refund_void_transaction_id,omitempty"`
	ChargeID                string `json:"charge_id,omitempty"`
	TempOrderNumber         string `json:"temp_order_number,omitempty"`
	Gateway                 string `json:"gateway"`
	Comment                 string `json:"comment,omitempty"`
	CardLast4               string `json:"card_last4,omitempty"`
	CardExpiry              string `json:"card_expiry,omitempty"`
	CreatedAt               string `json:"created_at"`
	UpdatedAt               string `json:"updated_at"`
}

// DetailsResponse is the ledger row for a transaction, with the gateway's
// view when requested live.
type DetailsResponse struct {
	Success      bool             `json:"success"`
	Attempt      *AttemptResponse `json:"attempt,omitempty"`
	RemoteStatus string           `json:"remote_status,omitempty"`
	RemoteAmount *string          `json:"remote_amount,omitempty"`
	ChargeID     string           `json:"charge_id,omitempty"`
	CardLast4    string           `json:"card_last4,omitempty"`
	CardExpiry   string           `json:"card_expiry,omitempty"`
}

// EnsureWebhookResponse reports the registration now in place.
type EnsureWebhookResponse struct {
	Success   bool   `json:"success"`
	WebhookID string `json:"webhook_id"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}

// WebhookAck acknowledges a delivery. Gateways only look at the status.
type WebhookAck struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
	Message  string `json:"message,omitempty"`
}

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	HTTPStatus   int    `json:"http_status"`
}

// --- Conversion helpers ---

func fromResult(r *gateway.Result) *PaymentResponse {
	return &PaymentResponse{
		Success:           true,
		AttemptID:         r.AttemptID,
		TransactionID:     r.TransactionID,
		ChargeID:          r.ChargeID,
		TransactionStatus: r.TransactionStatus,
		Gateway:           r.Gateway,
		Status:            r.Status,
		Message:           r.Message,
		Amount:            r.Amount.StringFixed(2),
		Settled:           r.Settled,
	}
}

func fromReversal(out *payment.ReversalOutcome) *ReversalResponse {
	resp := &ReversalResponse{
		Success:           true,
		AttemptID:         out.AttemptID,
		RefundID:          out.RefundID,
		ChargeID:          out.ChargeID,
		TransactionStatus: out.TransactionStatus,
		Gateway:           out.Gateway,
		Status:            out.Status,
		Message:           out.Message,
		RefundedAmount:    out.Amount.Abs().StringFixed(2),
		Settled:           out.Settled,
	}
	if out.RemainingRefundable != nil {
		s := out.RemainingRefundable.StringFixed(2)
		resp.RemainingRefundable = &s
	}
	return resp
}

func fromDetails(d *gateway.Details) *DetailsResponse {
	resp := &DetailsResponse{
		Success:      true,
		RemoteStatus: d.RemoteStatus,
		ChargeID:     d.ChargeID,
		CardLast4:    d.CardLast4,
		CardExpiry:   d.CardExpiry,
	}
	if a := d.Attempt; a != nil {
		resp.Attempt = &AttemptResponse{
			ID:                      a.ID,
			Operation:               string(a.Operation),
			Amount:                  a.Amount.StringFixed(2),
			Status:                  a.Status.String(),
			TransactionID:           a.TransactionID,
			RefundVoidTransactionID: a.RefundVoidTransactionID,
			ChargeID:                a.ChargeID,
			TempOrderNumber:         a.TempOrderNumber,
			Gateway:                 a.Gateway,
			Comment:                 a.Comment,
			CardLast4:               a.CardLast4,
			CardExpiry:              a.CardExpiry,
			CreatedAt:               a.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:               a.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	if d.RemoteAmount != nil {
		s := d.RemoteAmount.StringFixed(2)
		resp.RemoteAmount = &s
	}
	return resp
}

func fromEnsure(r *webhook.EnsureResult) *EnsureWebhookResponse {
	return &EnsureWebhookResponse{
		Success:   true,
		WebhookID: r.WebhookID,
		Action:    string(r.Action),
		Message:   r.Message,
	}
}

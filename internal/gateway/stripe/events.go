package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

// SignatureHeader carries Stripe's webhook signature.
const SignatureHeader = "Stripe-Signature"

// Event is a verified Stripe notification. Object is the raw data.object.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// VerifyEvent checks the signature over the raw body and decodes the envelope.
func VerifyEvent(body []byte, signature, secret string) (*Event, error) {
	if secret == "" {
		return nil, domainErrors.Configuration("webhook_secret_missing", "Webhook secret not configured.").
			WithStatus(http.StatusBadRequest)
	}
	ev, err := stripewebhook.ConstructEventWithOptions(body, signature, secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, stripewebhook.ErrNotSigned) || errors.Is(err, stripewebhook.ErrInvalidHeader) ||
			errors.Is(err, stripewebhook.ErrNoValidSignature) || errors.Is(err, stripewebhook.ErrTooOld) {
			return nil, domainErrors.Signature("invalid_signature", "Invalid signature.", err).
				WithStatus(http.StatusBadRequest)
		}
		return nil, domainErrors.Validation("invalid_payload", "Invalid payload.")
	}
	return &Event{ID: ev.ID, Type: string(ev.Type), Object: ev.Data.Raw}, nil
}

// Metadata is Stripe's string map with typed accessors.
type Metadata map[string]string

// Int64 parses key. An absent key is 0 with no error.
func (m Metadata) Int64(key string) (int64, error) {
	v, ok := m[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metadata %s: %w", key, err)
	}
	return n, nil
}

// PaymentIntentObject is the data.object of payment_intent.* events.
type PaymentIntentObject struct {
	ID               string   `json:"id"`
	Amount           int64    `json:"amount"`
	Status           string   `json:"status"`
	LatestCharge     string   `json:"latest_charge"`
	Metadata         Metadata `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"last_payment_error"`
}

// ChargeObject is the data.object of charge.* events.
type ChargeObject struct {
	ID                   string   `json:"id"`
	Amount               int64    `json:"amount"`
	PaymentIntent        string   `json:"payment_intent"`
	Captured             bool     `json:"captured"`
	Metadata             Metadata `json:"metadata"`
	PaymentMethodDetails *struct {
		Card *struct {
			Last4    string `json:"last4"`
			ExpMonth int64  `json:"exp_month"`
			ExpYear  int64  `json:"exp_year"`
			Wallet   *struct {
				Type string `json:"type"`
			} `json:"wallet"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

// CardLast4 returns the card's last four digits, if any.
func (c *ChargeObject) CardLast4() string {
	if c.PaymentMethodDetails == nil || c.PaymentMethodDetails.Card == nil {
		return ""
	}
	return c.PaymentMethodDetails.Card.Last4
}

// CardExpiry returns the card expiry as "m/yyyy", if any.
func (c *ChargeObject) CardExpiry() string {
	if c.PaymentMethodDetails == nil || c.PaymentMethodDetails.Card == nil {
		return ""
	}
	return cardExpiry(c.PaymentMethodDetails.Card.ExpMonth, c.PaymentMethodDetails.Card.ExpYear)
}

// WalletLabel names the wallet a card payment came through, e.g.
// "Stripe (apple_pay)", or "" for a plain card.
func (c *ChargeObject) WalletLabel() string {
	if c.PaymentMethodDetails == nil || c.PaymentMethodDetails.Card == nil || c.PaymentMethodDetails.Card.Wallet == nil {
		return ""
	}
	if t := c.PaymentMethodDetails.Card.Wallet.Type; t != "" {
		return "Stripe (" + t + ")"
	}
	return ""
}

// RefundObject is the data.object of refund.* events.
type RefundObject struct {
	ID                 string   `json:"id"`
	Amount             int64    `json:"amount"`
	Charge             string   `json:"charge"`
	PaymentIntent      string   `json:"payment_intent"`
	Status             string   `json:"status"`
	FailureReason      string   `json:"failure_reason"`
	Metadata           Metadata `json:"metadata"`
	DestinationDetails *struct {
		Card *struct {
			Type string `json:"type"`
		} `json:"card"`
	} `json:"destination_details"`
}

// IsReversal reports whether the refund released an authorization rather
// than returning settled funds, which is how Stripe reports a void.
func (r *RefundObject) IsReversal() bool {
	if r.DestinationDetails == nil || r.DestinationDetails.Card == nil {
		return false
	}
	switch r.DestinationDetails.Card.Type {
	case "reversal", "pending":
		return true
	}
	return false
}

// ReaderObject is the data.object of terminal.reader.* events.
type ReaderObject struct {
	ID     string `json:"id"`
	Action *struct {
		Type                 string `json:"type"`
		Status               string `json:"status"`
		ProcessPaymentIntent *struct {
			PaymentIntent string `json:"payment_intent"`
		} `json:"process_payment_intent"`
	} `json:"action"`
	Metadata Metadata `json:"metadata"`
}

// FromCents converts Stripe's minor units to a display amount.
func FromCents(cents int64) decimal.Decimal {
	return fromCents(cents)
}

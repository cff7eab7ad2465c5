package stripe

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

// mapError turns an SDK error into a PaymentError.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return domainErrors.GatewayTransport("gateway_unreachable", "Failed to reach Stripe. Please try again.", err)
	}

	msg := se.Msg
	if msg == "" {
		msg = "Stripe request failed."
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized:
		return domainErrors.GatewayBusiness("authentication_error", "Invalid Stripe API key provided.", err).
			WithStatus(http.StatusUnauthorized)
	case se.Type == stripe.ErrorTypeCard:
		code := string(se.Code)
		if code == "" {
			code = "card_error"
		}
		return domainErrors.GatewayBusiness(code, msg, err).WithStatus(http.StatusPaymentRequired)
	case se.Type == stripe.ErrorTypeInvalidRequest:
		code := string(se.Code)
		if code == "" {
			code = "invalid_request"
		}
		return domainErrors.GatewayBusiness(code, msg, err).WithStatus(http.StatusBadRequest)
	}
	return domainErrors.GatewayTransport("operation_failed", msg, err)
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

package attempt

import (
	"fmt"
	"strings"

	domainerrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

// Gateway identifies a payment backend.
type Gateway string

const (
	GatewayStripe       Gateway = "stripe"
	GatewayAuthorizeNet Gateway = "authorize.net"
)

// LabelStripePOS is the gateway label stored on in-person terminal payments.
const LabelStripePOS = "Stripe POS Terminal"

// Gateways lists every supported backend.
func Gateways() []Gateway {
	return []Gateway{GatewayStripe, GatewayAuthorizeNet}
}

// ParseGateway accepts the stored gateway names and the URL slugs.
func ParseGateway(s string) (Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stripe":
		return GatewayStripe, nil
	case "authorize.net", "authorize", "authorizenet", "authorize_net":
		return GatewayAuthorizeNet, nil
	}
	return "", fmt.Errorf("%w: %q", domainerrors.ErrUnsupportedGateway, s)
}

// Label is the human-readable name written to the ledger's gateway column.
func (g Gateway) Label() string {
	switch g {
	case GatewayStripe:
		return "Stripe"
	case GatewayAuthorizeNet:
		return "AUTHORIZE.NET"
	}
	return string(g)
}

// Slug is the path segment used in webhook callback URLs.
func (g Gateway) Slug() string {
	switch g {
	case GatewayAuthorizeNet:
		return "authorize"
	}
	return string(g)
}

// GatewayForLabel maps a ledger gateway label, including sub-labels such as
// "Stripe POS Terminal" or "Stripe (apple_pay)", back to its gateway.
func GatewayForLabel(label string) (Gateway, bool) {
	switch {
	case strings.HasPrefix(label, GatewayStripe.Label()):
		return GatewayStripe, true
	case strings.EqualFold(label, GatewayAuthorizeNet.Label()):
		return GatewayAuthorizeNet, true
	}
	return "", false
}

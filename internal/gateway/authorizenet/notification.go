package authorizenet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

// SignatureHeader carries "sha512=<hex>" over the raw body.
const SignatureHeader = "X-ANET-Signature"

const signaturePrefix = "sha512="

// Notification is a webhook delivery.
type Notification struct {
	NotificationID string              `json:"notificationId"`
	EventType      string              `json:"eventType"`
	EventDate      string              `json:"eventDate"`
	WebhookID      string              `json:"webhookId"`
	Payload        NotificationPayload `json:"payload"`
}

type NotificationPayload struct {
	ResponseCode  int             `json:"responseCode"`
	AuthCode      string          `json:"authCode"`
	AVSResponse   string          `json:"avsResponse"`
	AuthAmount    decimal.Decimal `json:"authAmount"`
	InvoiceNumber string          `json:"invoiceNumber"`
	EntityName    string          `json:"entityName"`
	ID            string          `json:"id"`
}

// Approved reports whether the notified transaction was approved.
func (p NotificationPayload) Approved() bool {
	return p.ResponseCode == 1
}

// EventID is the dedup key of a delivery. Older payloads without a
// notification id fall back to the event type and transaction id.
func (n *Notification) EventID() string {
	if n.NotificationID != "" {
		return n.NotificationID
	}
	return n.EventType + ":" + n.Payload.ID
}

// VerifySignature checks the HMAC-SHA512 of body under signingKey. The hex
// digest is compared case-insensitively.
func VerifySignature(body []byte, header, signingKey string) error {
	if signingKey == "" {
		return domainErrors.Configuration("signing_key_missing", "No signing key configured")
	}
	mac := hmac.New(sha512.New, []byte(signingKey))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	got := strings.ToLower(strings.TrimSpace(header))
	if !hmac.Equal([]byte(got), []byte(expected)) {
		return domainErrors.Signature("invalid_signature", "Invalid signature", nil)
	}
	return nil
}

// ParseNotification decodes a verified body.
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, &domainErrors.PaymentError{
			Kind:    domainErrors.KindValidation,
			Code:    "invalid_payload",
			Message: "Invalid JSON payload",
			Err:     err,
		}
	}
	return &n, nil
}

package stripe_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway/stripe"
)

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

const refundEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "refund.updated",
  "data": {"object": {
    "id": "re_1", "amount": 4000, "charge": "ch_1", "status": "succeeded",
    "metadata": {"refund_attempt_id": "12", "user_id": "7"},
    "destination_details": {"card": {"type": "refund"}}
  }}
}`

func TestVerifyEvent(t *testing.T) {
	body := []byte(refundEvent)

	ev, err := stripe.VerifyEvent(body, sign(body, "whsec_test"), "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "refund.updated", ev.Type)

	var rf stripe.RefundObject
	require.NoError(t, json.Unmarshal(ev.Object, &rf))
	assert.Equal(t, "re_1", rf.ID)
	attemptID, err := rf.Metadata.Int64(stripe.MetaRefundAttemptID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), attemptID)
	assert.False(t, rf.IsReversal())
	assert.True(t, stripe.FromCents(rf.Amount).Equal(stripe.FromCents(4000)))
}

func TestVerifyEvent_Failures(t *testing.T) {
	body := []byte(refundEvent)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := stripe.VerifyEvent(body, sign(body, "whsec_other"), "whsec_test")
		pe, ok := domainErrors.AsPaymentError(err)
		require.True(t, ok)
		assert.Equal(t, domainErrors.KindSignature, pe.Kind)
		assert.Equal(t, http.StatusBadRequest, pe.Status)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := stripe.VerifyEvent(body, "", "whsec_test")
		assert.Equal(t, domainErrors.KindSignature, domainErrors.KindOf(err))
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := stripe.VerifyEvent(body, sign(body, "x"), "")
		pe, ok := domainErrors.AsPaymentError(err)
		require.True(t, ok)
		assert.Equal(t, domainErrors.KindConfiguration, pe.Kind)
		assert.Equal(t, http.StatusBadRequest, pe.Status)
	})

	t.Run("malformed json", func(t *testing.T) {
		bad := []byte(`{"id": "evt_1",`)
		_, err := stripe.VerifyEvent(bad, sign(bad, "whsec_test"), "whsec_test")
		assert.Equal(t, domainErrors.KindValidation, domainErrors.KindOf(err))
	})
}

func TestChargeObject_Card(t *testing.T) {
	var ch stripe.ChargeObject
	require.NoError(t, json.Unmarshal([]byte(`{
	  "id": "ch_1",
	  "payment_method_details": {"card": {"last4": "4242", "exp_month": 4, "exp_year": 2031, "wallet": {"type": "apple_pay"}}}
	}`), &ch))

	assert.Equal(t, "4242", ch.CardLast4())
	assert.Equal(t, "4/2031", ch.CardExpiry())
	assert.Equal(t, "Stripe (apple_pay)", ch.WalletLabel())
}

func TestRefundObject_IsReversal(t *testing.T) {
	var rf stripe.RefundObject
	require.NoError(t, json.Unmarshal([]byte(`{"destination_details": {"card": {"type": "reversal"}}}`), &rf))
	assert.True(t, rf.IsReversal())
}

func TestMetadata_Int64(t *testing.T) {
	meta := stripe.Metadata{"user_id": "7", "payment_attempt_id": "12abc", "empty": ""}

	n, err := meta.Int64("user_id")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = meta.Int64("missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = meta.Int64("empty")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = meta.Int64("payment_attempt_id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment_attempt_id")
	assert.Zero(t, n)
}

package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payrecon/internal/application/ledger"
	"github.com/cassiomorais/payrecon/internal/application/webhook"
	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/gateway/authorizenet"
	"github.com/cassiomorais/payrecon/internal/gateway/stripe"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/payrecon/internal/testutil"
)

const (
	stripeSecret = "whsec_test"
	signingKey   = "ABCDEF0123456789"
)

type fixture struct {
	ledger    *testutil.MockLedger
	merchants *testutil.MockMerchantRepository
	events    *testutil.MockEventRepository
	outbox    *testutil.MockOutboxRepository
	tx        *testutil.MockTransactionManager
	metrics   *observability.Metrics
	proc      *webhook.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: testutil.NewMockLedger(),
		merchants: testutil.NewMockMerchantRepository(
			testutil.NewStripeConfig(1, map[string]string{merchant.KeyWebhookSecret: stripeSecret}),
			testutil.NewAuthorizeNetConfig(2, nil),
		),
		events:  testutil.NewMockEventRepository(),
		outbox:  &testutil.MockOutboxRepository{},
		tx:      testutil.NewMockTransactionManager(),
		metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	rec := ledger.NewTransitioner(f.ledger, f.outbox, f.tx, zerolog.Nop())
	f.proc = webhook.NewProcessor(f.merchants, f.ledger, rec, f.events, f.tx, f.metrics, zerolog.Nop())
	return f
}

func (f *fixture) pendingCharge(txID, amount, label string) *attempt.PaymentAttempt {
	a := testutil.NewPaidCharge(txID, "", amount, label)
	a.Status = attempt.StatusAttempt
	a.CardLast4, a.CardExpiry = "", ""
	return f.ledger.Seed(a)
}

func (f *fixture) handle(t *testing.T, d webhook.Delivery) webhook.Outcome {
	t.Helper()
	out, err := f.proc.Handle(context.Background(), d)
	require.NoError(t, err)
	return out
}

func signStripe(body []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeDelivery(t *testing.T, eventID, eventType string, object map[string]any) webhook.Delivery {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	h := http.Header{}
	h.Set(stripe.SignatureHeader, signStripe(body, stripeSecret))
	return webhook.Delivery{Gateway: attempt.GatewayStripe, UserID: testutil.TestUserID, Body: body, Headers: h}
}

func anetDelivery(t *testing.T, notificationID, eventType string, payload map[string]any) webhook.Delivery {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"notificationId": notificationID,
		"eventType":      eventType,
		"eventDate":      "2026-01-05T10:00:00Z",
		"webhookId":      "wh-1",
		"payload":        payload,
	})
	require.NoError(t, err)
	mac := hmac.New(sha512.New, []byte(signingKey))
	mac.Write(body)
	h := http.Header{}
	h.Set(authorizenet.SignatureHeader, "sha512="+hex.EncodeToString(mac.Sum(nil)))
	return webhook.Delivery{Gateway: attempt.GatewayAuthorizeNet, UserID: testutil.TestUserID, Body: body, Headers: h}
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestProcessor_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	row := f.pendingCharge("", "25.00", "Stripe")

	d := stripeDelivery(t, "evt_1", "payment_intent.succeeded", map[string]any{
		"id":            "pi_1",
		"amount":        2500,
		"status":        "succeeded",
		"latest_charge": "ch_1",
		"metadata":      map[string]any{"payment_attempt_id": id(row.ID), "user_id": "7"},
	})

	first := f.handle(t, d)
	assert.Equal(t, webhook.ResultApplied, first.Result)
	assert.Equal(t, row.ID, first.AttemptID)

	second := f.handle(t, d)
	assert.Equal(t, webhook.ResultDuplicate, second.Result)
	assert.Equal(t, "evt_1", second.EventID)

	got := f.ledger.Get(row.ID)
	assert.Equal(t, attempt.StatusPaid, got.Status)
	assert.Equal(t, "pi_1", got.TransactionID)
	assert.Equal(t, "ch_1", got.ChargeID)
	assert.Equal(t, []string{"attempt.paid"}, f.outbox.EventTypes())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WebhookEventsTotal.WithLabelValues("stripe", "payment_intent.succeeded", "duplicate")))
}

func TestProcessor_ForeignTenantIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	row := f.pendingCharge("pi_1", "25.00", "Stripe")

	out := f.handle(t, stripeDelivery(t, "evt_1", "payment_intent.succeeded", map[string]any{
		"id":       "pi_1",
		"amount":   2500,
		"metadata": map[string]any{"payment_attempt_id": id(row.ID), "user_id": "99"},
	}))

	assert.Equal(t, webhook.ResultForeignTenant, out.Result)
	assert.Equal(t, attempt.StatusAttempt, f.ledger.Get(row.ID).Status)
	assert.Zero(t, f.events.Count())
	assert.Empty(t, f.outbox.EventTypes())
}

func TestProcessor_Stripe_ChargeBeforeIntent(t *testing.T) {
	f := newFixture(t)
	row := f.pendingCharge("pi_1", "25.00", "Stripe")

	charge := f.handle(t, stripeDelivery(t, "evt_ch", "charge.succeeded", map[string]any{
		"id":             "ch_1",
		"amount":         2500,
		"payment_intent": "pi_1",
		"captured":       true,
		"metadata":       map[string]any{"user_id": "7"},
		"payment_method_details": map[string]any{"card": map[string]any{
			"last4": "4242", "exp_month": 4, "exp_year": 2031,
			"wallet": map[string]any{"type": "apple_pay"},
		}},
	}))
	assert.Equal(t, webhook.ResultApplied, charge.Result)

	intent := f.handle(t, stripeDelivery(t, "evt_pi", "payment_intent.succeeded", map[string]any{
		"id":            "pi_1",
		"amount":        2500,
		"latest_charge": "ch_1",
		"metadata":      map[string]any{"payment_attempt_id": id(row.ID), "user_id": "7"},
	}))
	assert.Equal(t, webhook.ResultNoop, intent.Result)

	failed := f.handle(t, stripeDelivery(t, "evt_fail", "payment_intent.payment_failed", map[string]any{
		"id":                 "pi_1",
		"metadata":           map[string]any{"payment_attempt_id": id(row.ID)},
		"last_payment_error": map[string]any{"message": "Your card was declined."},
	}))
	assert.Equal(t, webhook.ResultNoop, failed.Result)

	got := f.ledger.Get(row.ID)
	assert.Equal(t, attempt.StatusPaid, got.Status)
	assert.Equal(t, "ch_1", got.ChargeID)
	assert.Equal(t, "4242", got.CardLast4)
	assert.Equal(t, "4/2031", got.CardExpiry)
	assert.Equal(t, "Stripe (apple_pay)", got.Gateway)
	assert.Equal(t, []string{"attempt.paid"}, f.outbox.EventTypes())
}

func TestProcessor_Stripe_MalformedMetadataFallsBackToIntent(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	rec := ledger.NewTransitioner(f.ledger, f.outbox, f.tx, zerolog.Nop())
	proc := webhook.NewProcessor(f.merchants, f.ledger, rec, f.events, f.tx, f.metrics, zerolog.New(&logs).Level(zerolog.DebugLevel))
	row := f.pendingCharge("pi_1", "25.00", "Stripe")

	out, err := proc.Handle(context.Background(), stripeDelivery(t, "evt_1", "payment_intent.succeeded", map[string]any{
		"id":            "pi_1",
		"amount":        2500,
		"latest_charge": "ch_1",
		"metadata":      map[string]any{"payment_attempt_id": "12abc", "user_id": "7"},
	}))
	require.NoError(t, err)
	assert.Equal(t, webhook.ResultApplied, out.Result)
	assert.Equal(t, row.ID, out.AttemptID)
	assert.Equal(t, attempt.StatusPaid, f.ledger.Get(row.ID).Status)
	assert.Contains(t, logs.String(), "Ignoring malformed Stripe metadata")
	assert.Contains(t, logs.String(), "12abc")
}

func TestProcessor_Stripe_IntentLifecycle(t *testing.T) {
	t.Run("created annotates", func(t *testing.T) {
		f := newFixture(t)
		row := f.pendingCharge("", "25.00", "Stripe")

		out := f.handle(t, stripeDelivery(t, "evt_1", "payment_intent.created", map[string]any{
			"id":       "pi_9",
			"metadata": map[string]any{"payment_attempt_id": id(row.ID)},
		}))
		assert.Equal(t, webhook.ResultApplied, out.Result)
		got := f.ledger.Get(row.ID)
		assert.Equal(t, attempt.StatusAttempt, got.Status)
		assert.Equal(t, "pi_9", got.TransactionID)
		assert.Equal(t, "Payment intent created: pi_9", got.Comment)
	})

	t.Run("failed marks error", func(t *testing.T) {
		f := newFixture(t)
		row := f.pendingCharge("pi_2", "25.00", "Stripe")

		out := f.handle(t, stripeDelivery(t, "evt_2", "payment_intent.payment_failed", map[string]any{
			"id":                 "pi_2",
			"last_payment_error": map[string]any{"message": "Your card was declined.", "code": "card_declined"},
		}))
		assert.Equal(t, webhook.ResultApplied, out.Result)
		got := f.ledger.Get(row.ID)
		assert.Equal(t, attempt.StatusError, got.Status)
		assert.Equal(t, "Your card was declined.", got.Comment)
		assert.Equal(t, []string{"attempt.error"}, f.outbox.EventTypes())
	})

	t.Run("canceled settles pending void", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Seed(testutil.NewPaidCharge("pi_3", "ch_3", "25.00", "Stripe"))
		void := f.ledger.Seed(testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "pi_3", "ch_3", "25.00", "Stripe"))

		out := f.handle(t, stripeDelivery(t, "evt_3", "payment_intent.canceled", map[string]any{
			"id":     "pi_3",
			"amount": 2500,
			"status": "canceled",
		}))
		assert.Equal(t, webhook.ResultApplied, out.Result)
		assert.Equal(t, void.ID, out.AttemptID)
		assert.Equal(t, attempt.StatusVoid, f.ledger.Get(void.ID).Status)
	})

	t.Run("canceled before payment fails the charge", func(t *testing.T) {
		f := newFixture(t)
		row := f.pendingCharge("pi_4", "25.00", "Stripe")

		out := f.handle(t, stripeDelivery(t, "evt_4", "payment_intent.canceled", map[string]any{
			"id":     "pi_4",
			"amount": 2500,
		}))
		assert.Equal(t, webhook.ResultApplied, out.Result)
		assert.Equal(t, attempt.StatusError, f.ledger.Get(row.ID).Status)
	})
}

func TestProcessor_Stripe_Refund(t *testing.T) {
	f := newFixture(t)
	f.ledger.Seed(testutil.NewPaidCharge("pi_1", "ch_1", "100.00", "Stripe"))
	refund := f.ledger.Seed(testutil.NewReversalRow(attempt.OperationRefund, attempt.StatusAttempt, "pi_1", "ch_1", "40", "Stripe"))
	other := f.ledger.Seed(testutil.NewReversalRow(attempt.OperationRefund, attempt.StatusAttempt, "pi_1", "ch_1", "10", "Stripe"))

	refundObject := func(status string, attemptID int64) map[string]any {
		return map[string]any{
			"id":                  "re_" + id(attemptID),
			"amount":              4000,
			"charge":              "ch_1",
			"payment_intent":      "pi_1",
			"status":              status,
			"metadata":            map[string]any{"refund_attempt_id": id(attemptID), "user_id": "7"},
			"destination_details": map[string]any{"card": map[string]any{"type": "refund"}},
		}
	}

	created := f.handle(t, stripeDelivery(t, "evt_1", "refund.created", refundObject("pending", refund.ID)))
	assert.Equal(t, webhook.ResultApplied, created.Result)
	assert.Equal(t, attempt.StatusAttempt, f.ledger.Get(refund.ID).Status)
	assert.Equal(t, "re_"+id(refund.ID), f.ledger.Get(refund.ID).RefundVoidTransactionID)

	updated := f.handle(t, stripeDelivery(t, "evt_2", "refund.updated", refundObject("succeeded", refund.ID)))
	assert.Equal(t, webhook.ResultApplied, updated.Result)
	got := f.ledger.Get(refund.ID)
	assert.Equal(t, attempt.StatusRefund, got.Status)
	assert.Equal(t, "Refund successful for payment intent pi_1 for $40.00", got.Comment)
	assert.True(t, got.Amount.Equal(testutil.Dec("-40")))

	failed := f.handle(t, stripeDelivery(t, "evt_3", "refund.failed", refundObject("failed", other.ID)))
	assert.Equal(t, webhook.ResultApplied, failed.Result)
	assert.Equal(t, attempt.StatusError, f.ledger.Get(other.ID).Status)

	late := f.handle(t, stripeDelivery(t, "evt_4", "refund.failed", refundObject("failed", refund.ID)))
	assert.Equal(t, webhook.ResultNoop, late.Result)
	assert.Equal(t, attempt.StatusRefund, f.ledger.Get(refund.ID).Status)
}

func TestProcessor_Stripe_ReversalSettlesVoid(t *testing.T) {
	f := newFixture(t)
	f.ledger.Seed(testutil.NewPaidCharge("pi_1", "ch_1", "100.00", "Stripe"))
	void := f.ledger.Seed(testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "pi_1", "ch_1", "100", "Stripe"))

	out := f.handle(t, stripeDelivery(t, "evt_1", "refund.updated", map[string]any{
		"id":                  "re_9",
		"amount":              10000,
		"charge":              "ch_1",
		"payment_intent":      "pi_1",
		"status":              "succeeded",
		"destination_details": map[string]any{"card": map[string]any{"type": "reversal"}},
	}))

	assert.Equal(t, webhook.ResultApplied, out.Result)
	got := f.ledger.Get(void.ID)
	assert.Equal(t, attempt.StatusVoid, got.Status)
	assert.Equal(t, "re_9", got.RefundVoidTransactionID)
	assert.Equal(t, "Void Successful", got.HandleComment)
}

func TestProcessor_Stripe_TerminalReader(t *testing.T) {
	f := newFixture(t)
	row := f.pendingCharge("pi_pos", "12.00", attempt.LabelStripePOS)

	out := f.handle(t, stripeDelivery(t, "evt_1", "terminal.reader.action_succeeded", map[string]any{
		"id": "tmr_1",
		"action": map[string]any{
			"type":                   "process_payment_intent",
			"status":                 "succeeded",
			"process_payment_intent": map[string]any{"payment_intent": "pi_pos"},
		},
	}))
	assert.Equal(t, webhook.ResultApplied, out.Result)
	assert.Equal(t, attempt.StatusPaid, f.ledger.Get(row.ID).Status)

	other := f.handle(t, stripeDelivery(t, "evt_2", "terminal.reader.action_succeeded", map[string]any{
		"id":     "tmr_1",
		"action": map[string]any{"type": "set_reader_display"},
	}))
	assert.Equal(t, webhook.ResultIgnored, other.Result)
}

func TestProcessor_UnmatchedEventCanBeRedelivered(t *testing.T) {
	f := newFixture(t)
	f.tx.WithTransactionFunc = func(ctx context.Context, fn func(ctx context.Context) error) error {
		err := fn(ctx)
		if err != nil {
			f.events.Forget(attempt.GatewayStripe, "evt_early")
		}
		return err
	}
	d := stripeDelivery(t, "evt_early", "refund.updated", map[string]any{
		"id":       "re_1",
		"amount":   500,
		"charge":   "ch_1",
		"status":   "succeeded",
		"metadata": map[string]any{"refund_attempt_id": "50"},
	})

	out := f.handle(t, d)
	assert.Equal(t, webhook.ResultUnmatched, out.Result)
	assert.Zero(t, f.events.Count())

	row := testutil.NewReversalRow(attempt.OperationRefund, attempt.StatusAttempt, "pi_1", "ch_1", "5", "Stripe")
	row.ID = 50
	f.ledger.Seed(row)

	out = f.handle(t, d)
	assert.Equal(t, webhook.ResultApplied, out.Result)
	assert.Equal(t, attempt.StatusRefund, f.ledger.Get(50).Status)
	assert.Equal(t, 1, f.events.Count())
}

func TestProcessor_Stripe_IgnoresUnknownEvents(t *testing.T) {
	f := newFixture(t)

	out := f.handle(t, stripeDelivery(t, "evt_1", "customer.created", map[string]any{"id": "cus_1"}))
	assert.Equal(t, webhook.ResultIgnored, out.Result)
	assert.Equal(t, 1, f.events.Count())
}

func TestProcessor_Rejections(t *testing.T) {
	t.Run("bad stripe signature", func(t *testing.T) {
		f := newFixture(t)
		d := stripeDelivery(t, "evt_1", "payment_intent.succeeded", map[string]any{"id": "pi_1"})
		d.Headers.Set(stripe.SignatureHeader, signStripe(d.Body, "whsec_other"))

		_, err := f.proc.Handle(context.Background(), d)
		pe, ok := domainErrors.AsPaymentError(err)
		require.True(t, ok)
		assert.Equal(t, domainErrors.KindSignature, pe.Kind)
		assert.Equal(t, http.StatusBadRequest, pe.HTTPStatus())
		assert.Zero(t, f.events.Count())
	})

	t.Run("tenant without configuration", func(t *testing.T) {
		f := newFixture(t)
		d := stripeDelivery(t, "evt_1", "payment_intent.succeeded", map[string]any{"id": "pi_1"})
		d.UserID = testutil.TestUserID + 1

		_, err := f.proc.Handle(context.Background(), d)
		assert.Equal(t, domainErrors.KindConfiguration, domainErrors.KindOf(err))
	})

	t.Run("bad authorize.net signature", func(t *testing.T) {
		f := newFixture(t)
		d := anetDelivery(t, "n-1", authorizenet.EventAuthCaptureCreated, map[string]any{"id": "60001"})
		d.Body = append(d.Body, ' ')

		_, err := f.proc.Handle(context.Background(), d)
		pe, ok := domainErrors.AsPaymentError(err)
		require.True(t, ok)
		assert.Equal(t, domainErrors.KindSignature, pe.Kind)
		assert.Equal(t, http.StatusUnauthorized, pe.HTTPStatus())
	})

	t.Run("unsupported gateway", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.proc.Handle(context.Background(), webhook.Delivery{Gateway: "paypal", UserID: testutil.TestUserID})
		assert.Equal(t, domainErrors.KindValidation, domainErrors.KindOf(err))
	})
}

func TestProcessor_AuthorizeNet_Capture(t *testing.T) {
	f := newFixture(t)
	approved := f.pendingCharge("", "25.50", "AUTHORIZE.NET")
	declined := f.pendingCharge("", "10.00", "AUTHORIZE.NET")

	out := f.handle(t, anetDelivery(t, "n-1", authorizenet.EventAuthCaptureCreated, map[string]any{
		"responseCode":  1,
		"authCode":      "AUTH01",
		"authAmount":    25.50,
		"invoiceNumber": approved.Invoice().String(),
		"entityName":    "transaction",
		"id":            "60001",
	}))
	assert.Equal(t, webhook.ResultApplied, out.Result)
	got := f.ledger.Get(approved.ID)
	assert.Equal(t, attempt.StatusPaid, got.Status)
	assert.Equal(t, "60001", got.TransactionID)
	assert.Equal(t, "AUTH01", got.ChargeID)
	assert.Equal(t, "Payment captured with Transaction ID 60001", got.Comment)

	out = f.handle(t, anetDelivery(t, "n-2", authorizenet.EventAuthCaptureCreated, map[string]any{
		"responseCode":  2,
		"authAmount":    10,
		"invoiceNumber": declined.Invoice().String(),
		"id":            "60002",
	}))
	assert.Equal(t, webhook.ResultApplied, out.Result)
	assert.Equal(t, attempt.StatusError, f.ledger.Get(declined.ID).Status)

	out = f.handle(t, anetDelivery(t, "n-1", authorizenet.EventAuthCaptureCreated, map[string]any{
		"responseCode":  1,
		"invoiceNumber": approved.Invoice().String(),
		"id":            "60001",
	}))
	assert.Equal(t, webhook.ResultDuplicate, out.Result)
}

func TestProcessor_AuthorizeNet_Reversals(t *testing.T) {
	f := newFixture(t)
	f.ledger.Seed(testutil.NewPaidCharge("60001", "AUTH01", "40.00", "AUTHORIZE.NET"))
	void := f.ledger.Seed(testutil.NewReversalRow(attempt.OperationVoid, attempt.StatusAttempt, "60001", "AUTH01", "40", "AUTHORIZE.NET"))
	f.ledger.Seed(testutil.NewPaidCharge("60005", "AUTH05", "30.00", "AUTHORIZE.NET"))
	refund := f.ledger.Seed(testutil.NewReversalRow(attempt.OperationRefund, attempt.StatusAttempt, "60005", "AUTH05", "12", "AUTHORIZE.NET"))

	out := f.handle(t, anetDelivery(t, "n-v", authorizenet.EventVoidCreated, map[string]any{
		"responseCode":  1,
		"authAmount":    40.00,
		"invoiceNumber": void.Invoice().String(),
		"id":            "60001",
	}))
	assert.Equal(t, webhook.ResultApplied, out.Result)
	got := f.ledger.Get(void.ID)
	assert.Equal(t, attempt.StatusVoid, got.Status)
	assert.Equal(t, "Payment voided with transaction ID 60001 for $40.00", got.Comment)

	out = f.handle(t, anetDelivery(t, "n-r", authorizenet.EventRefundCreated, map[string]any{
		"responseCode":  1,
		"authAmount":    12,
		"invoiceNumber": refund.Invoice().String(),
		"id":            "70001",
	}))
	assert.Equal(t, webhook.ResultApplied, out.Result)
	got = f.ledger.Get(refund.ID)
	assert.Equal(t, attempt.StatusRefund, got.Status)
	assert.Equal(t, "70001", got.RefundVoidTransactionID)
	assert.Equal(t, "60005", got.TransactionID)

	assert.Equal(t, []string{"attempt.void", "attempt.refund"}, f.outbox.EventTypes())
}

func TestProcessor_AuthorizeNet_ForeignInvoice(t *testing.T) {
	f := newFixture(t)
	row := f.pendingCharge("", "25.50", "AUTHORIZE.NET")
	inv := row.Invoice()
	inv.UserID = 99

	out := f.handle(t, anetDelivery(t, "n-1", authorizenet.EventAuthCaptureCreated, map[string]any{
		"responseCode":  1,
		"invoiceNumber": inv.String(),
		"id":            "60001",
	}))
	assert.Equal(t, webhook.ResultForeignTenant, out.Result)
	assert.Equal(t, attempt.StatusAttempt, f.ledger.Get(row.ID).Status)
}

package authorizenet_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/gateway/authorizenet"
)

const notificationBody = `{"notificationId":"n-1","eventType":"net.authorize.payment.authcapture.created","eventDate":"2026-01-05T10:00:00Z","webhookId":"wh-1","payload":{"responseCode":1,"authCode":"AUTH01","avsResponse":"Y","authAmount":25.50,"invoiceNumber":"ATT-7-1-T100-3","entityName":"transaction","id":"60001"}}`

func sign(body, key string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(body))
	return "sha512=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	const key = "ABCDEF0123456789"
	valid := sign(notificationBody, key)

	tests := []struct {
		name     string
		header   string
		key      string
		wantKind domainErrors.Kind
	}{
		{"valid", valid, key, ""},
		{"upper case digest", "SHA512=" + strings.ToUpper(strings.TrimPrefix(valid, "sha512=")), key, ""},
		{"wrong key", sign(notificationBody, "other"), key, domainErrors.KindSignature},
		{"missing header", "", key, domainErrors.KindSignature},
		{"missing key", valid, "", domainErrors.KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizenet.VerifySignature([]byte(notificationBody), tt.header, tt.key)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, domainErrors.KindOf(err))
		})
	}
}

func TestParseNotification(t *testing.T) {
	n, err := authorizenet.ParseNotification([]byte(notificationBody))
	require.NoError(t, err)

	assert.Equal(t, "n-1", n.EventID())
	assert.Equal(t, authorizenet.EventAuthCaptureCreated, n.EventType)
	assert.True(t, n.Payload.Approved())
	assert.Equal(t, "AUTH01", n.Payload.AuthCode)
	assert.Equal(t, "25.5", n.Payload.AuthAmount.String())
	assert.Equal(t, "ATT-7-1-T100-3", n.Payload.InvoiceNumber)

	_, err = authorizenet.ParseNotification([]byte("{not json"))
	assert.Equal(t, domainErrors.KindValidation, domainErrors.KindOf(err))
}

func TestNotification_EventIDFallback(t *testing.T) {
	n := &authorizenet.Notification{EventType: authorizenet.EventVoidCreated, Payload: authorizenet.NotificationPayload{ID: "60001"}}
	assert.Equal(t, "net.authorize.payment.void.created:60001", n.EventID())
}

func TestAdapter_Webhooks(t *testing.T) {
	var created authorizenet.Webhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "login" || pass != "txkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/webhooks":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &created)
			created.WebhookID = "wh-1"
			_ = json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/webhooks/wh-1":
			_ = json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodDelete && r.URL.Path == "/rest/v1/webhooks/wh-1":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	a, _ := newAdapter(srv.URL)
	ctx := context.Background()

	remote, err := a.CreateWebhook(ctx, gateway.WebhookSpec{
		URL:    "https://pay.example.com/api/webhook/authorize/user/7",
		Events: authorizenet.DesiredEvents,
	})
	require.NoError(t, err)
	assert.Equal(t, "wh-1", remote.ID)
	assert.Equal(t, authorizenet.ActiveStatus, created.Status)
	assert.Equal(t, authorizenet.DesiredEvents, created.EventTypes)

	got, err := a.GetWebhook(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/api/webhook/authorize/user/7", got.URL)
	assert.Equal(t, "active", got.Status)

	_, err = a.GetWebhook(ctx, "missing")
	assert.Equal(t, domainErrors.KindNotFound, domainErrors.KindOf(err))

	assert.NoError(t, a.DeleteWebhook(ctx, "wh-1"))
}

package authorizenet_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payrecon/internal/application/ledger"
	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/gateway/authorizenet"
	"github.com/cassiomorais/payrecon/internal/testutil"
)

// fakeAPI answers transaction API calls by request name.
type fakeAPI struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	handlers map[string]func(req map[string]any) any
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		requests: make(map[string][]map[string]any),
		handlers: make(map[string]func(map[string]any) any),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var envelope map[string]map[string]any
		if err := json.Unmarshal(body, &envelope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for name, req := range envelope {
			f.mu.Lock()
			f.requests[name] = append(f.requests[name], req)
			h := f.handlers[name]
			f.mu.Unlock()
			if h == nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			out, _ := json.Marshal(h(req))
			// Authorize.net prefixes JSON answers with a byte order mark.
			_, _ = w.Write(append([]byte("\xef\xbb\xbf"), out...))
			return
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) on(name string, h func(req map[string]any) any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

func (f *fakeAPI) calls(name string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[name]
}

func newAdapter(baseURL string) (*authorizenet.Adapter, *testutil.MockLedger) {
	l := testutil.NewMockLedger()
	rec := ledger.NewTransitioner(l, &testutil.MockOutboxRepository{}, testutil.NewMockTransactionManager(), zerolog.Nop())
	deps := gateway.Deps{
		Ledger:   l,
		Recorder: rec,
		Settings: gateway.Settings{Currency: "usd"},
		Logger:   zerolog.Nop(),
	}
	client := authorizenet.NewClient(baseURL, "login", "txkey", http.DefaultClient)
	return authorizenet.New(testutil.NewAuthorizeNetConfig(1, nil), deps, client), l
}

func approved(transID, authCode string) map[string]any {
	return map[string]any{
		"transactionResponse": map[string]any{
			"responseCode":  "1",
			"authCode":      authCode,
			"transId":       transID,
			"accountNumber": "XXXX1111",
			"accountType":   "Visa",
		},
		"messages": map[string]any{
			"resultCode": "Ok",
			"message":    []map[string]any{{"code": "I00001", "text": "Successful."}},
		},
	}
}

func rejected(responseCode, errorCode, errorText string) map[string]any {
	return map[string]any{
		"transactionResponse": map[string]any{
			"responseCode": responseCode,
			"transId":      "0",
			"errors":       []map[string]any{{"errorCode": errorCode, "errorText": errorText}},
		},
		"messages": map[string]any{
			"resultCode": "Error",
			"message":    []map[string]any{{"code": "E00027", "text": "The transaction was unsuccessful."}},
		},
	}
}

func details(status string, settle float64) map[string]any {
	return map[string]any{
		"transaction": map[string]any{
			"transId":           "60001",
			"transactionStatus": status,
			"authAmount":        settle,
			"settleAmount":      settle,
			"authCode":          "AUTH01",
			"payment": map[string]any{
				"creditCard": map[string]any{"cardNumber": "XXXX1111", "expirationDate": "XXXX", "cardType": "Visa"},
			},
		},
		"messages": map[string]any{"resultCode": "Ok"},
	}
}

func initiateRequest() gateway.InitiateRequest {
	return gateway.InitiateRequest{
		Tenant:          gateway.Tenant{UserID: testutil.TestUserID, StoreID: testutil.TestStoreID, MemberName: "Ada"},
		Amount:          testutil.Dec("25.50"),
		Token:           base64.StdEncoding.EncodeToString([]byte("nonce-value")),
		TempOrderNumber: "T100",
	}
}

func TestAdapter_Initiate_Success(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("createTransactionRequest", func(map[string]any) any { return approved("60001", "AUTH01") })
	a, l := newAdapter(srv.URL)

	res, err := a.Initiate(context.Background(), initiateRequest())
	require.NoError(t, err)

	calls := api.calls("createTransactionRequest")
	require.Len(t, calls, 1)
	auth := calls[0]["merchantAuthentication"].(map[string]any)
	assert.Equal(t, "login", auth["name"])
	assert.Equal(t, "txkey", auth["transactionKey"])

	tr := calls[0]["transactionRequest"].(map[string]any)
	assert.Equal(t, "authCaptureTransaction", tr["transactionType"])
	assert.Equal(t, "25.50", tr["amount"])
	opaque := tr["payment"].(map[string]any)["opaqueData"].(map[string]any)
	assert.Equal(t, authorizenet.DescriptorInApp, opaque["dataDescriptor"])
	assert.Equal(t, "nonce-value", opaque["dataValue"])
	assert.Equal(t, "ATT-7-1-T100-3", tr["order"].(map[string]any)["invoiceNumber"])
	assert.Equal(t, "7", tr["customer"].(map[string]any)["id"])

	assert.Equal(t, "60001", res.TransactionID)
	assert.Equal(t, "AUTH01", res.ChargeID)
	assert.Equal(t, "Attempt", res.Status)
	assert.Equal(t, "Payment initiated, awaiting webhook confirmation", res.Message)

	row := l.Get(res.AttemptID)
	assert.Equal(t, attempt.StatusAttempt, row.Status)
	assert.Equal(t, "60001", row.TransactionID)
	assert.Equal(t, "AUTH01", row.ChargeID)
	assert.Equal(t, "1111", row.CardLast4)
	assert.Equal(t, "AUTHORIZE.NET", row.Gateway)
}

func TestAdapter_Initiate_InvalidNonce(t *testing.T) {
	api, srv := newFakeAPI(t)
	a, l := newAdapter(srv.URL)

	req := initiateRequest()
	req.Token = "not base64!"
	_, err := a.Initiate(context.Background(), req)

	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, domainErrors.KindValidation, pe.Kind)
	assert.Equal(t, "Invalid payment nonce format", pe.Message)
	assert.Empty(t, api.calls("createTransactionRequest"))

	row := l.All()[0]
	assert.Equal(t, attempt.StatusError, row.Status)
	assert.Equal(t, "Invalid payment nonce format", row.Comment)
}

func TestAdapter_Initiate_Declined(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("createTransactionRequest", func(map[string]any) any {
		return rejected("2", "2", "This transaction has been declined.")
	})
	a, l := newAdapter(srv.URL)

	_, err := a.Initiate(context.Background(), initiateRequest())
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, domainErrors.KindGatewayBusiness, pe.Kind)
	assert.Equal(t, http.StatusPaymentRequired, pe.Status)

	row := l.All()[0]
	assert.Equal(t, attempt.StatusError, row.Status)
	assert.Equal(t, "This transaction has been declined.", row.Comment)
}

func TestAdapter_Initiate_WebhookBeforeAnswerKeepsPaid(t *testing.T) {
	api, srv := newFakeAPI(t)
	a, l := newAdapter(srv.URL)
	webhook := ledger.NewTransitioner(l, &testutil.MockOutboxRepository{}, testutil.NewMockTransactionManager(), zerolog.Nop())
	api.on("createTransactionRequest", func(map[string]any) any {
		// The capture notification lands before the API call returns.
		changed, err := webhook.Transition(context.Background(), l.All()[0].ID, attempt.StatusPaid, attempt.Fields{
			TransactionID: "60001",
			Comment:       "Payment captured with Transaction ID 60001",
			HandleComment: "Payment successful",
		})
		assert.NoError(t, err)
		assert.True(t, changed)
		return approved("60001", "AUTH01")
	})

	res, err := a.Initiate(context.Background(), initiateRequest())
	require.NoError(t, err)

	row := l.Get(res.AttemptID)
	assert.Equal(t, attempt.StatusPaid, row.Status)
	assert.Equal(t, "Payment captured with Transaction ID 60001", row.Comment)
	assert.Equal(t, "60001", row.TransactionID)
	assert.Equal(t, "AUTH01", row.ChargeID)
	assert.Equal(t, "1111", row.CardLast4)
}

func TestAdapter_Initiate_LongInvoiceNumberIsShortened(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("createTransactionRequest", func(map[string]any) any { return approved("60001", "AUTH01") })
	a, _ := newAdapter(srv.URL)

	req := initiateRequest()
	req.TempOrderNumber = "ABCDEFGHIJKLMNOPQRST"
	_, err := a.Initiate(context.Background(), req)
	require.NoError(t, err)

	calls := api.calls("createTransactionRequest")
	require.Len(t, calls, 1)
	invoice := calls[0]["transactionRequest"].(map[string]any)["order"].(map[string]any)["invoiceNumber"].(string)
	assert.Equal(t, "ATT-7-1-ABCDEFGHIJKL", invoice)

	inv, err := attempt.ParseInvoice(invoice)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUserID, inv.UserID)
	assert.Equal(t, int64(1), inv.AttemptID)
}

func TestAdapter_Initiate_InvalidCredentials(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("createTransactionRequest", func(map[string]any) any {
		return map[string]any{
			"messages": map[string]any{
				"resultCode": "Error",
				"message":    []map[string]any{{"code": "E00007", "text": "User authentication failed due to invalid authentication values."}},
			},
		}
	})
	a, _ := newAdapter(srv.URL)

	_, err := a.Initiate(context.Background(), initiateRequest())
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, "E00007", pe.Code)
	assert.Equal(t, "Invalid Authorize.net credentials provided.", pe.Message)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
}

func TestAdapter_Initiate_UnreachableMarksAttemptError(t *testing.T) {
	_, srv := newFakeAPI(t)
	url := srv.URL
	srv.Close()
	a, l := newAdapter(url)

	_, err := a.Initiate(context.Background(), initiateRequest())
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, domainErrors.KindGatewayTransport, pe.Kind)
	assert.Equal(t, "E00001", pe.Code)
	row := l.All()[0]
	assert.Equal(t, attempt.StatusError, row.Status)
	assert.Equal(t, pe.Message, row.Comment)
}

func reversalRequest(l *testutil.MockLedger, amount string) gateway.ReversalRequest {
	orig := l.Seed(testutil.NewPaidCharge("60001", "AUTH01", "40.00", "AUTHORIZE.NET"))
	return gateway.ReversalRequest{
		Tenant:   gateway.Tenant{UserID: testutil.TestUserID, StoreID: testutil.TestStoreID},
		Original: attempt.OriginalFromAttempt(orig),
		Amount:   testutil.Dec(amount),
	}
}

func TestAdapter_Refund_Success(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getTransactionDetailsRequest", func(map[string]any) any { return details(authorizenet.StatusSettled, 40) })
	api.on("createTransactionRequest", func(map[string]any) any { return approved("70001", "") })
	a, l := newAdapter(srv.URL)
	req := reversalRequest(l, "15.00")

	res, err := a.Refund(context.Background(), req)
	require.NoError(t, err)

	tr := api.calls("createTransactionRequest")[0]["transactionRequest"].(map[string]any)
	assert.Equal(t, "refundTransaction", tr["transactionType"])
	assert.Equal(t, "15.00", tr["amount"])
	assert.Equal(t, "60001", tr["refTransId"])
	card := tr["payment"].(map[string]any)["creditCard"].(map[string]any)
	assert.Equal(t, "XXXX1111", card["cardNumber"])

	assert.Equal(t, "70001", res.RefundID)
	assert.Equal(t, "2", res.TransactionStatus)
	assert.Equal(t, "succeeded", res.Status)

	row := l.Get(res.AttemptID)
	assert.Equal(t, attempt.OperationRefund, row.Operation)
	assert.Equal(t, attempt.StatusAttempt, row.Status)
	assert.True(t, row.Amount.Equal(testutil.Dec("-15.00")))
	assert.Equal(t, "70001", row.RefundVoidTransactionID)
	assert.Equal(t, "60001", row.TransactionID)
}

func TestAdapter_Refund_NotSettled(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getTransactionDetailsRequest", func(map[string]any) any { return details(authorizenet.StatusCapturedPendingSettlement, 40) })
	api.on("createTransactionRequest", func(map[string]any) any {
		return rejected("3", "54", "The referenced transaction does not meet the criteria for issuing a credit.")
	})
	a, l := newAdapter(srv.URL)

	_, err := a.Refund(context.Background(), reversalRequest(l, "15.00"))
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, "54", pe.Code)
	assert.Contains(t, pe.Message, "Transaction may not be settled yet. Consider voiding instead.")

	rows := l.All()
	require.Len(t, rows, 2)
	assert.Equal(t, attempt.StatusError, rows[1].Status)
}

func TestAdapter_Void_AlreadySettled(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getTransactionDetailsRequest", func(map[string]any) any { return details(authorizenet.StatusSettled, 40) })
	a, l := newAdapter(srv.URL)

	_, err := a.Void(context.Background(), reversalRequest(l, "40.00"))
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, "E00027", pe.Code)
	assert.Equal(t, http.StatusConflict, pe.Status)
	assert.Equal(t, "Transaction with ID 60001 is already settled. Cannot void, try refund instead.", pe.Message)
	assert.Empty(t, api.calls("createTransactionRequest"))

	rows := l.All()
	require.Len(t, rows, 2)
	assert.Equal(t, attempt.OperationVoid, rows[1].Operation)
	assert.Equal(t, attempt.StatusError, rows[1].Status)
}

func TestAdapter_Void_Success(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getTransactionDetailsRequest", func(map[string]any) any { return details(authorizenet.StatusCapturedPendingSettlement, 40) })
	api.on("createTransactionRequest", func(map[string]any) any { return approved("80001", "AUTH01") })
	a, l := newAdapter(srv.URL)

	res, err := a.Void(context.Background(), reversalRequest(l, "40.00"))
	require.NoError(t, err)

	tr := api.calls("createTransactionRequest")[0]["transactionRequest"].(map[string]any)
	assert.Equal(t, "voidTransaction", tr["transactionType"])
	assert.NotContains(t, tr, "amount")
	assert.Equal(t, "1", res.TransactionStatus)
	assert.Equal(t, "80001", res.RefundID)
	assert.False(t, res.Settled)

	row := l.Get(res.AttemptID)
	assert.Equal(t, attempt.StatusAttempt, row.Status)
	assert.True(t, row.Amount.Equal(testutil.Dec("-40.00")))
}

func TestAdapter_ResolveExternal(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		op       attempt.Operation
		wantKind domainErrors.Kind
		wantMsg  string
	}{
		{"refund settled", authorizenet.StatusSettled, attempt.OperationRefund, "", ""},
		{"refund pending settlement", authorizenet.StatusCapturedPendingSettlement, attempt.OperationRefund, "", ""},
		{"void pending capture", authorizenet.StatusAuthorizedPendingCapture, attempt.OperationVoid, "", ""},
		{"void settled", authorizenet.StatusSettled, attempt.OperationVoid, domainErrors.KindBusinessRule,
			"Transaction cannot be voided. Transaction status is already settledSuccessfully"},
		{"refund voided", "voided", attempt.OperationRefund, domainErrors.KindBusinessRule,
			"Transaction cannot be refunded. Transaction status is already voided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.on("getTransactionDetailsRequest", func(map[string]any) any { return details(tt.status, 40) })
			a, _ := newAdapter(srv.URL)

			orig, err := a.ResolveExternal(context.Background(), "60001", tt.op)
			if tt.wantKind == "" {
				require.NoError(t, err)
				assert.True(t, orig.IsExternal)
				assert.Equal(t, "AUTH01", orig.ChargeID)
				assert.True(t, orig.Amount.Equal(testutil.Dec("40")))
				assert.Equal(t, "1111", orig.CardLast4)
				return
			}
			pe, ok := domainErrors.AsPaymentError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.wantMsg, pe.Message)
		})
	}
}

func TestAdapter_ResolveExternal_NotFound(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getTransactionDetailsRequest", func(map[string]any) any {
		return map[string]any{
			"messages": map[string]any{
				"resultCode": "Error",
				"message":    []map[string]any{{"code": "E00040", "text": "The record cannot be found."}},
			},
		}
	})
	a, _ := newAdapter(srv.URL)

	_, err := a.ResolveExternal(context.Background(), "999", attempt.OperationRefund)
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, domainErrors.KindNotFound, pe.Kind)
	assert.Equal(t, "External transaction not found or invalid: 999. Error: The record cannot be found.", pe.Message)
}

func TestAdapter_QueryDetails_Live(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.on("getTransactionDetailsRequest", func(map[string]any) any { return details(authorizenet.StatusSettled, 40) })
	a, l := newAdapter(srv.URL)
	l.Seed(testutil.NewPaidCharge("60001", "AUTH01", "40.00", "AUTHORIZE.NET"))

	d, err := a.QueryDetails(context.Background(), gateway.DetailsRequest{UserID: testutil.TestUserID, TransactionID: "60001", Live: true})
	require.NoError(t, err)
	assert.Equal(t, authorizenet.StatusSettled, d.RemoteStatus)
	require.NotNil(t, d.RemoteAmount)
	assert.True(t, d.RemoteAmount.Equal(testutil.Dec("40")))

	local, err := a.QueryDetails(context.Background(), gateway.DetailsRequest{UserID: testutil.TestUserID, TransactionID: "60001"})
	require.NoError(t, err)
	assert.Empty(t, local.RemoteStatus)
	assert.Len(t, api.calls("getTransactionDetailsRequest"), 1)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, authorizenet.ProductionURL, authorizenet.BaseURL(true, ""))
	assert.Equal(t, authorizenet.SandboxURL, authorizenet.BaseURL(false, ""))
	assert.Equal(t, "http://localhost:9000", authorizenet.BaseURL(true, "http://localhost:9000/"))
}

package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payrecon/internal/application/payment"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/infrastructure/cart"
	"github.com/cassiomorais/payrecon/internal/testutil"
)

func check() payment.CartCheck {
	return payment.CartCheck{
		UserID:          testutil.TestUserID,
		StoreID:         testutil.TestStoreID,
		TempOrderNumber: "T100",
		Amount:          testutil.Dec("19.9"),
	}
}

func TestClient_Verify(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"Success"}`))
	}))
	defer srv.Close()

	c := cart.NewClient(srv.URL, "s3cret", time.Second, srv.Client(), zerolog.Nop())
	require.NoError(t, c.Verify(context.Background(), check()))

	assert.Equal(t, "T100", got["cart_id"])
	assert.Equal(t, float64(testutil.TestStoreID), got["store_id"])
	assert.Equal(t, 19.9, got["amount"])
	assert.Equal(t, "s3cret", got["password"])
}

func TestClient_Verify_Mismatch(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"status failed": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"failed","message":"amount mismatch"}`))
		},
		"client error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`not json`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			err := cart.NewClient(srv.URL, "s3cret", time.Second, srv.Client(), zerolog.Nop()).Verify(context.Background(), check())
			pe, ok := domainErrors.AsPaymentError(err)
			require.True(t, ok)
			assert.Equal(t, domainErrors.KindBusinessRule, pe.Kind)
			assert.Equal(t, "cart_amount_mismatch", pe.Code)
		})
	}
}

func TestClient_Verify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	err := cart.NewClient(srv.URL, "s3cret", time.Second, srv.Client(), zerolog.Nop()).Verify(context.Background(), check())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Verify_Unavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := cart.NewClient(srv.URL, "s3cret", time.Second, srv.Client(), zerolog.Nop()).Verify(context.Background(), check())
	pe, ok := domainErrors.AsPaymentError(err)
	require.True(t, ok)
	assert.Equal(t, "cart_unavailable", pe.Code)
	assert.Equal(t, http.StatusBadGateway, pe.HTTPStatus())
	assert.Equal(t, int32(3), calls.Load())
}

// Package cart asks the storefront's cart service whether a charge amount
// matches the cart it pays for.
package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cassiomorais/payrecon/internal/application/payment"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/pkg/retry"
)

const maxResponseBytes = 64 << 10

type verifyRequest struct {
	CartID   string      `json:"cart_id"`
	StoreID  int64       `json:"store_id"`
	Amount   json.Number `json:"amount"`
	Password string      `json:"password"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// statusError is a 5xx from the cart service. Only these are retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("cart service returned %d: %s", e.code, e.body)
}

// Client implements payment.CartVerifier over HTTP.
type Client struct {
	url    string
	secret string
	http   *http.Client
	retry  retry.Config
	logger zerolog.Logger
}

var _ payment.CartVerifier = (*Client)(nil)

// NewClient returns a client for the service at url. A nil httpClient gets
// a traced client with the given timeout.
func NewClient(url, secret string, timeout time.Duration, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		url:    url,
		secret: secret,
		http:   httpClient,
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Jitter:       100 * time.Millisecond,
			Name:         "cart.verify",
			Retryable: func(err error) bool {
				var se *statusError
				return errors.As(err, &se) || isNetError(err)
			},
		},
		logger: logger,
	}
}

// Verify rejects the charge unless the cart service answers "success".
func (c *Client) Verify(ctx context.Context, check payment.CartCheck) error {
	body, err := json.Marshal(verifyRequest{
		CartID:   check.TempOrderNumber,
		StoreID:  check.StoreID,
		Amount:   json.Number(check.Amount.StringFixed(2)),
		Password: c.secret,
	})
	if err != nil {
		return fmt.Errorf("marshal cart request: %w", err)
	}

	resp, err := retry.DoWithResult(ctx, c.retry, func() (*verifyResponse, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		c.logger.Error().Err(err).Int64("store_id", check.StoreID).Str("cart_id", check.TempOrderNumber).
			Msg("Cart verification request failed")
		return domainErrors.GatewayTransport("cart_unavailable", "Unable to verify the cart amount.", err).
			WithStatus(http.StatusBadGateway)
	}
	if !strings.EqualFold(resp.Status, "success") {
		c.logger.Warn().Str("status", resp.Status).Str("message", resp.Message).Str("cart_id", check.TempOrderNumber).
			Msg("Cart amount rejected")
		return domainErrors.BusinessRule("cart_amount_mismatch", "Amount does not match the cart total.")
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*verifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, &statusError{code: res.StatusCode, body: string(raw)}
	}

	var out verifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return &verifyResponse{Status: "error", Message: string(raw)}, nil
		}
		return nil, fmt.Errorf("decode cart response: %w", err)
	}
	return &out, nil
}

func isNetError(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne)
}

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/payrecon/pkg/retry"
)

// Recorder writes ledger rows and status changes with their outbox events.
type Recorder interface {
	Open(ctx context.Context, a *attempt.PaymentAttempt) error
	Transition(ctx context.Context, id int64, status attempt.Status, f attempt.Fields) (bool, error)
	Fail(ctx context.Context, id int64, reason string) error
	Annotate(ctx context.Context, id int64, f attempt.Fields) error
}

// Deps are the collaborators handed to a Builder.
type Deps struct {
	Ledger   attempt.Ledger
	Recorder Recorder
	Settings Settings
	Breaker  *gobreaker.CircuitBreaker[any]
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Call runs fn through the gateway's breaker under the request timeout.
// An open breaker is reported as a transport error.
func Call[T any](ctx context.Context, d Deps, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d.Settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Settings.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if d.Metrics != nil {
			d.Metrics.GatewayCallDuration.WithLabelValues(breakerName(d), name).Observe(time.Since(start).Seconds())
		}
	}()

	if d.Breaker == nil {
		return fn(ctx)
	}

	out, err := d.Breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, domainErrors.GatewayTransport("gateway_unavailable",
				"Payment gateway is temporarily unavailable, try again shortly.", err)
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// Read is Call for idempotent lookups: transport failures are retried.
func Read[T any](ctx context.Context, d Deps, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := d.Settings.ReadRetry
	cfg.Name = breakerName(d) + "." + name
	cfg.Retryable = func(err error) bool {
		return domainErrors.KindOf(err) == domainErrors.KindGatewayTransport
	}
	return retry.DoWithResult(ctx, cfg, func() (T, error) {
		return Call(ctx, d, name, fn)
	})
}

func breakerName(d Deps) string {
	if d.Breaker == nil {
		return "gateway"
	}
	return d.Breaker.Name()
}

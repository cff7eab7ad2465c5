// Package retry wraps avast/retry-go with the backoff every outbound call
// in payrecon uses: gateway lookups, the cart verifier and startup pings.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// MaxAttempts counts the first call. Zero means one call.
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Jitter adds up to this much random delay to each backoff step.
	Jitter time.Duration
	// Retryable filters errors. Nil retries everything but cancellation.
	Retryable func(error) bool
	// Name is the "op" field of retry log lines.
	Name string
}

func (c Config) options(ctx context.Context) []retry.Option {
	attempts := c.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	delayType := retry.BackOffDelay
	if c.Jitter > 0 {
		delayType = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.InitialDelay),
		retry.MaxDelay(c.MaxDelay),
		retry.MaxJitter(c.Jitter),
		retry.DelayType(delayType),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return false
			}
			return c.Retryable == nil || c.Retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("op", c.Name).Uint("attempt", n+1).Msg("Retrying")
		}),
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned unwrapped.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return retry.Do(fn, cfg.options(ctx)...)
}

// DoWithResult is Do for calls that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, cfg.options(ctx)...)
}

package gateway

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/payrecon/pkg/retry"
)

// Settings tune every adapter the registry builds.
type Settings struct {
	Currency        string
	RequestTimeout  time.Duration
	ReadRetry       retry.Config
	BreakerTimeout  time.Duration
	AuthorizeNetURL string
}

// Builder creates an adapter for one tenant config.
type Builder func(cfg *merchant.GatewayConfig, deps Deps) (Adapter, error)

type registration struct {
	required []string
	build    Builder
}

// Registry maps gateways to builders. Adapters are built per request from the
// tenant's config; breakers are shared per gateway.
type Registry struct {
	mu       sync.RWMutex
	builders map[attempt.Gateway]registration
	breakers map[attempt.Gateway]*gobreaker.CircuitBreaker[any]

	ledger   attempt.Ledger
	recorder Recorder
	settings Settings
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewRegistry(ledger attempt.Ledger, recorder Recorder, settings Settings, metrics *observability.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		builders: make(map[attempt.Gateway]registration),
		breakers: make(map[attempt.Gateway]*gobreaker.CircuitBreaker[any]),
		ledger:   ledger,
		recorder: recorder,
		settings: settings,
		metrics:  metrics,
		logger:   logger,
	}
}

// Register adds a gateway with the credential keys its adapter cannot work without.
func (r *Registry) Register(gw attempt.Gateway, required []string, build Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[gw] = registration{required: required, build: build}
	r.breakers[gw] = r.newBreaker(gw)
}

func (r *Registry) newBreaker(gw attempt.Gateway) *gobreaker.CircuitBreaker[any] {
	timeout := r.settings.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(gw),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		// Declines and validation failures prove the gateway is up.
		IsSuccessful: func(err error) bool {
			return err == nil || domainErrors.KindOf(err) != domainErrors.KindGatewayTransport
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("gateway", name).Stringer("from", from).Stringer("to", to).Msg("Circuit breaker state changed")
			if r.metrics != nil {
				r.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

// Supported lists the registered gateways.
func (r *Registry) Supported() []attempt.Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]attempt.Gateway, 0, len(r.builders))
	for _, gw := range attempt.Gateways() {
		if _, ok := r.builders[gw]; ok {
			out = append(out, gw)
		}
	}
	return out
}

// Adapter builds the adapter for cfg after checking its credentials.
func (r *Registry) Adapter(cfg *merchant.GatewayConfig) (Adapter, error) {
	r.mu.RLock()
	reg, ok := r.builders[cfg.Gateway]
	breaker := r.breakers[cfg.Gateway]
	r.mu.RUnlock()
	if !ok {
		return nil, domainErrors.Configuration("unsupported_gateway",
			fmt.Sprintf("Unsupported payment gateway: %s", cfg.Gateway))
	}

	if missing := cfg.Credentials.Missing(reg.required...); len(missing) > 0 {
		return nil, domainErrors.Configuration("missing_credentials",
			"Missing required credentials: "+strings.Join(missing, ", "))
	}

	return reg.build(cfg, Deps{
		Ledger:   r.ledger,
		Recorder: r.recorder,
		Settings: r.settings,
		Breaker:  breaker,
		Metrics:  r.metrics,
		Logger:   r.logger.With().Str("gateway", string(cfg.Gateway)).Int64("user_id", cfg.UserID).Logger(),
	})
}

// Registrar returns the webhook registrar for cfg.
func (r *Registry) Registrar(cfg *merchant.GatewayConfig) (WebhookRegistrar, error) {
	adapter, err := r.Adapter(cfg)
	if err != nil {
		return nil, err
	}
	reg, ok := adapter.(WebhookRegistrar)
	if !ok {
		return nil, domainErrors.Configuration("webhooks_unsupported",
			fmt.Sprintf("%s does not support webhook registration", cfg.Gateway.Label()))
	}
	return reg, nil
}

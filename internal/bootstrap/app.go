// Package bootstrap assembles the process-wide infrastructure and the
// service graph shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cassiomorais/payrecon/internal/application/ledger"
	"github.com/cassiomorais/payrecon/internal/application/payment"
	"github.com/cassiomorais/payrecon/internal/application/refund"
	"github.com/cassiomorais/payrecon/internal/application/webhook"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/gateway/authorizenet"
	"github.com/cassiomorais/payrecon/internal/gateway/stripe"
	"github.com/cassiomorais/payrecon/internal/infrastructure/cart"
	"github.com/cassiomorais/payrecon/internal/infrastructure/config"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payrecon/internal/infrastructure/redis"
	"github.com/cassiomorais/payrecon/internal/repository/postgres"
	"github.com/cassiomorais/payrecon/pkg/retry"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	// A .env file is a local convenience; deployments set the environment.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger = logger.With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn().Err(envErr).Msg("Failed to read .env file")
	}
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	pool, err := postgres.NewPool(ctx, &cfg.Database, observability.Component(logger, "pgx"))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

// Repositories are the Postgres stores every binary reads and writes.
type Repositories struct {
	Attempts    *postgres.AttemptRepository
	Merchants   *postgres.MerchantRepository
	Events      *postgres.WebhookEventRepository
	Outbox      *postgres.OutboxRepository
	Idempotency *postgres.IdempotencyRepository
	Tx          *postgres.TxManager
}

func (a *App) Repositories() *Repositories {
	return &Repositories{
		Attempts:    postgres.NewAttemptRepository(a.Pool),
		Merchants:   postgres.NewMerchantRepository(a.Pool),
		Events:      postgres.NewWebhookEventRepository(a.Pool),
		Outbox:      postgres.NewOutboxRepository(a.Pool),
		Idempotency: postgres.NewIdempotencyRepository(a.Pool),
		Tx:          postgres.NewTxManager(a.Pool),
	}
}

// Services is the application layer wired against the live infrastructure.
type Services struct {
	Repos        *Repositories
	Gateways     *gateway.Registry
	Orchestrator *payment.Orchestrator
	Endpoints    *webhook.EndpointManager
	Processor    *webhook.Processor
}

func (a *App) Services() *Services {
	cfg := a.Config
	repos := a.Repositories()

	transitioner := ledger.NewTransitioner(repos.Attempts, repos.Outbox, repos.Tx,
		observability.Component(a.Logger, "ledger"))

	registry := gateway.NewRegistry(repos.Attempts, transitioner, gateway.Settings{
		Currency:       cfg.Gateway.Currency,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		ReadRetry: retry.Config{
			MaxAttempts:  cfg.Gateway.ReadRetryAttempts,
			InitialDelay: cfg.Gateway.ReadRetryDelay,
			MaxDelay:     10 * cfg.Gateway.ReadRetryDelay,
			Jitter:       cfg.Gateway.ReadRetryDelay / 2,
		},
		BreakerTimeout:  cfg.Gateway.BreakerTimeout,
		AuthorizeNetURL: cfg.Gateway.AuthorizeNetURL,
	}, a.Metrics, observability.Component(a.Logger, "gateway"))
	stripe.Register(registry, stripe.NewAPI)
	authorizenet.Register(registry, &http.Client{
		Timeout:   cfg.Gateway.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	locker := infraRedis.NewLocker(a.Redis, cfg.Gateway.ReversalLockTTL)

	var verifier payment.CartVerifier
	if cfg.Cart.URL != "" {
		verifier = cart.NewClient(cfg.Cart.URL, cfg.Cart.Secret, cfg.Cart.Timeout, nil,
			observability.Component(a.Logger, "cart"))
	}

	orchestrator := payment.NewOrchestrator(
		repos.Merchants,
		repos.Attempts,
		registry,
		refund.NewValidator(repos.Attempts, observability.Component(a.Logger, "refund")),
		locker,
		verifier,
		a.Metrics,
		observability.Component(a.Logger, "payment"),
	)

	endpoints := webhook.NewEndpointManager(
		repos.Merchants,
		registry,
		infraRedis.NewDeletionMarker(a.Redis, cfg.Webhook.DeletionMarkerTTL),
		locker,
		cfg.Webhook.CallbackURL,
		a.Metrics,
		observability.Component(a.Logger, "webhook_endpoints"),
	)

	processor := webhook.NewProcessor(
		repos.Merchants,
		repos.Attempts,
		transitioner,
		repos.Events,
		repos.Tx,
		a.Metrics,
		observability.Component(a.Logger, "webhook_processor"),
	)

	return &Services{
		Repos:        repos,
		Gateways:     registry,
		Orchestrator: orchestrator,
		Endpoints:    endpoints,
		Processor:    processor,
	}
}

package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cassiomorais/payrecon/internal/infrastructure/config"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/payrecon/internal/middleware"
)

type RouterDeps struct {
	Database         Pinger
	Redis            Pinger
	Payments         PaymentService
	Webhooks         WebhookProcessor
	Endpoints        EndpointEnsurer
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	Metrics          *observability.Metrics
	// MetricsHandler serves /metrics; nil uses the default registry.
	MetricsHandler http.Handler
	JWTSecret      string
	CORSConfig     config.CORSConfig
	RequestTimeout time.Duration
	Webhook        config.WebhookConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	if deps.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.RequestTimeout))
	}
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.Database, deps.Redis)
	paymentH := NewPaymentController(deps.Payments)
	webhookH := NewWebhookController(deps.Webhooks, deps.Endpoints)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Gateway callbacks are public; the signature is their authentication.
	r.Group(func(r chi.Router) {
		if deps.Webhook.RateLimit > 0 {
			r.Use(customMW.RateLimit(deps.Webhook.RateLimit))
		}
		if deps.Webhook.MaxBodyBytes > 0 {
			r.Use(customMW.MaxBodyBytes(deps.Webhook.MaxBodyBytes))
		}
		r.Post("/webhook/{gateway}/user/{userID}", webhookH.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Idempotency-Replayed"},
			AllowCredentials: deps.CORSConfig.AllowCredentials,
			MaxAge:           300,
		}))
		r.Use(customMW.RequireAuth(deps.JWTSecret))

		ttl := deps.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		idempotent := func(next http.Handler) http.Handler { return next }
		if deps.IdempotencyStore != nil {
			idempotent = customMW.Idempotency(deps.IdempotencyStore, ttl)
		}

		// Payments
		r.With(idempotent).Post("/payments", paymentH.Pay)
		r.With(idempotent).Post("/payments/terminal/intents", paymentH.CreateTerminalIntent)
		r.With(idempotent).Post("/payments/refund", paymentH.Refund)
		r.With(idempotent).Post("/payments/void", paymentH.Void)
		r.Get("/payments/{transactionID}", paymentH.Details)

		// Webhook registrations
		r.Post("/webhooks/{gateway}/ensure", webhookH.Ensure)
	})

	return r
}

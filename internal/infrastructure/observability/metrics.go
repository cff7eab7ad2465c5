package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Attempt lifecycle
	AttemptsTotal       *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	StaleAttempts       prometheus.Gauge

	// Webhooks
	WebhookEventsTotal          *prometheus.CounterVec
	WebhookEndpointActionsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Worker metrics
	OutboxPublishedTotal   *prometheus.CounterVec
	WorkerCleanupRowsTotal *prometheus.CounterVec
	WorkerLoopDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Payment, refund and void attempts by gateway, operation and outcome",
			},
			[]string{"gateway", "operation", "outcome"},
		),
		GatewayCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Duration of remote gateway calls in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"gateway", "call"},
		),
		StaleAttempts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stale_attempts",
				Help:      "Attempts still awaiting confirmation past the staleness window",
			},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Inbound webhook events by gateway, type and outcome",
			},
			[]string{"gateway", "event_type", "outcome"},
		),
		WebhookEndpointActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_endpoint_actions_total",
				Help:      "Webhook registration actions by gateway and action",
			},
			[]string{"gateway", "action"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		OutboxPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_published_total",
				Help:      "Outbox entries handled by the publisher",
			},
			[]string{"event_type", "status"},
		),
		WorkerCleanupRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_cleanup_rows_total",
				Help:      "Rows removed by retention cleanup",
			},
			[]string{"table"},
		),
		WorkerLoopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_loop_duration_seconds",
				Help:      "Duration of one worker loop iteration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"loop"},
		),
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.GatewayCallDuration,
		m.StaleAttempts,
		m.WebhookEventsTotal,
		m.WebhookEndpointActionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.OutboxPublishedTotal,
		m.WorkerCleanupRowsTotal,
		m.WorkerLoopDuration,
	)

	return m
}

package metrics

import (
	"sync"
	"time"

	"github.com/go-authgate/checkrgate/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics interface used across the application
type Recorder = core.Recorder

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Result label values
const (
	ResultSuccess     = "success"
	ResultRejected    = "rejected"
	ResultUnavailable = "unavailable"
	ResultInvalid     = "invalid"
	ResultError       = "error"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// OAuth Metrics
	OAuthExchangesTotal *prometheus.CounterVec

	// Webhook Metrics
	WebhooksTotal                 *prometheus.CounterVec
	WebhookSignatureFailuresTotal prometheus.Counter

	// Authorization Metrics
	RevocationsTotal              *prometheus.CounterVec
	AuthorizationTransitionsTotal *prometheus.CounterVec
	Authorizations                *prometheus.GaugeVec

	// Checkr API Metrics
	CheckrAPIDuration *prometheus.HistogramVec

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database Query Metrics
	DatabaseQueryErrorsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag
// If enabled=true, returns Prometheus-based Metrics
// If enabled=false, returns NoopMetrics (zero overhead)
// Uses sync.Once to ensure Prometheus metrics are only registered once
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	m := &Metrics{
		OAuthExchangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkr_oauth_exchanges_total",
				Help: "Total number of Checkr authorization code exchanges",
			},
			[]string{"result"}, // success, rejected, unavailable, invalid, error
		),

		WebhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkr_webhooks_total",
				Help: "Total number of verified Checkr webhooks by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookSignatureFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "checkr_webhook_signature_failures_total",
				Help: "Total number of webhooks rejected by signature verification",
			},
		),

		RevocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkr_revocations_total",
				Help: "Total number of self-service deauthorization requests",
			},
			[]string{"result"},
		),
		AuthorizationTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkr_authorization_transitions_total",
				Help: "Total number of authorization state transitions",
			},
			[]string{"from", "to"},
		),
		Authorizations: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkr_authorizations",
				Help: "Current number of authorization records by state",
			},
			[]string{"state"},
		),

		CheckrAPIDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkr_api_duration_seconds",
				Help:    "Latency of outbound Checkr calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 15.0},
			},
			[]string{"operation"}, // exchange, deauthorize, account
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request latency in seconds",
				Buckets: []float64{
					0.001,
					0.005,
					0.010,
					0.025,
					0.050,
					0.100,
					0.250,
					0.500,
					1.0,
					2.5,
					5.0,
					10.0,
				},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
		),

		DatabaseQueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_query_errors_total",
				Help: "Total number of database query errors during metric collection",
			},
			[]string{"operation"},
		),
	}

	return m
}

// RecordOAuthExchange records the result of a code exchange
func (m *Metrics) RecordOAuthExchange(result string) {
	m.OAuthExchangesTotal.WithLabelValues(result).Inc()
}

// RecordWebhook records a verified webhook and what the dispatcher did with it
func (m *Metrics) RecordWebhook(notificationType, outcome string) {
	m.WebhooksTotal.WithLabelValues(notificationType, outcome).Inc()
}

// RecordWebhookSignatureFailure records a rejected signature
func (m *Metrics) RecordWebhookSignatureFailure() {
	m.WebhookSignatureFailuresTotal.Inc()
}

// RecordRevocation records a deauthorize request result
func (m *Metrics) RecordRevocation(result string) {
	m.RevocationsTotal.WithLabelValues(result).Inc()
}

// RecordAuthorizationTransition records a state change
func (m *Metrics) RecordAuthorizationTransition(from, to string) {
	m.AuthorizationTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCheckrAPICall records outbound call latency
func (m *Metrics) RecordCheckrAPICall(operation string, duration time.Duration) {
	m.CheckrAPIDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetAuthorizationsCount sets the record count for a state (for periodic updates)
func (m *Metrics) SetAuthorizationsCount(state string, count int64) {
	m.Authorizations.WithLabelValues(state).Set(float64(count))
}

// RecordDatabaseQueryError records a database query error during metric collection
func (m *Metrics) RecordDatabaseQueryError(operation string) {
	m.DatabaseQueryErrorsTotal.WithLabelValues(operation).Inc()
}

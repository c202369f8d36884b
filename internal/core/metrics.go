package core

import "time"

// Recorder defines the interface for recording application metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// OAuth connect flow
	RecordOAuthExchange(result string)

	// Webhooks
	RecordWebhook(notificationType, outcome string)
	RecordWebhookSignatureFailure()

	// Self-service revocation
	RecordRevocation(result string)

	// State machine
	RecordAuthorizationTransition(from, to string)

	// Outbound Checkr calls
	RecordCheckrAPICall(operation string, duration time.Duration)

	// Gauge Setters (for periodic updates)
	SetAuthorizationsCount(state string, count int64)

	// Database Operations
	RecordDatabaseQueryError(operation string)
}

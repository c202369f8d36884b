package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
// All methods are empty and do nothing, providing zero overhead when metrics are disabled
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordOAuthExchange(result string)                            {}
func (n *NoopMetrics) RecordWebhook(notificationType, outcome string)               {}
func (n *NoopMetrics) RecordWebhookSignatureFailure()                               {}
func (n *NoopMetrics) RecordRevocation(result string)                               {}
func (n *NoopMetrics) RecordAuthorizationTransition(from, to string)                {}
func (n *NoopMetrics) RecordCheckrAPICall(operation string, duration time.Duration) {}
func (n *NoopMetrics) SetAuthorizationsCount(state string, count int64)             {}
func (n *NoopMetrics) RecordDatabaseQueryError(operation string)                    {}

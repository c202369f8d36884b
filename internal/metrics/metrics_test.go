package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, ok := Init(true).(*Metrics)
	require.True(t, ok, "Init(true) should return *Metrics")
	return m
}

func TestInit(t *testing.T) {
	m := mustMetrics(t)
	assert.NotNil(t, m.OAuthExchangesTotal)
	assert.NotNil(t, m.WebhooksTotal)
	assert.NotNil(t, m.Authorizations)
	assert.NotNil(t, m.HTTPRequestsTotal)

	assert.Same(t, m, mustMetrics(t), "Init should register metrics once")
}

func TestInitNoop(t *testing.T) {
	m := Init(false)
	_, ok := m.(*NoopMetrics)
	assert.True(t, ok, "Init(false) should return *NoopMetrics")

	assert.NotPanics(t, func() {
		m.RecordOAuthExchange(ResultSuccess)
		m.RecordWebhook("account.credentialed", "credentialed")
		m.RecordWebhookSignatureFailure()
		m.RecordRevocation(ResultRejected)
		m.RecordAuthorizationTransition("uncredentialed", "credentialed")
		m.RecordCheckrAPICall("exchange", time.Second)
		m.SetAuthorizationsCount("credentialed", 3)
		m.RecordDatabaseQueryError("count_authorizations")
	})
}

func TestCounters(t *testing.T) {
	m := mustMetrics(t)

	exchanges := m.OAuthExchangesTotal.WithLabelValues(ResultRejected)
	before := testutil.ToFloat64(exchanges)
	m.RecordOAuthExchange(ResultRejected)
	assert.InDelta(t, before+1, testutil.ToFloat64(exchanges), 0.001)

	webhooks := m.WebhooksTotal.WithLabelValues("report.completed", "ignored")
	before = testutil.ToFloat64(webhooks)
	m.RecordWebhook("report.completed", "ignored")
	assert.InDelta(t, before+1, testutil.ToFloat64(webhooks), 0.001)

	before = testutil.ToFloat64(m.WebhookSignatureFailuresTotal)
	m.RecordWebhookSignatureFailure()
	assert.InDelta(t, before+1, testutil.ToFloat64(m.WebhookSignatureFailuresTotal), 0.001)

	transitions := m.AuthorizationTransitionsTotal.WithLabelValues("credentialed", "disconnected")
	before = testutil.ToFloat64(transitions)
	m.RecordAuthorizationTransition("credentialed", "disconnected")
	assert.InDelta(t, before+1, testutil.ToFloat64(transitions), 0.001)
}

func TestSetAuthorizationsCount(t *testing.T) {
	m := mustMetrics(t)

	m.SetAuthorizationsCount("credentialed", 7)
	assert.InDelta(t, 7, testutil.ToFloat64(m.Authorizations.WithLabelValues("credentialed")), 0.001)

	m.SetAuthorizationsCount("credentialed", 2)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Authorizations.WithLabelValues("credentialed")), 0.001)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := mustMetrics(t)

	r := gin.New()
	r.Use(HTTPMetricsMiddleware(m))
	r.GET("/api/accounts/:id/checkr", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	routed := m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/accounts/:id/checkr", "200")
	health := m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/health", "200")
	beforeRouted := testutil.ToFloat64(routed)
	beforeHealth := testutil.ToFloat64(health)

	for _, path := range []string{"/api/accounts/P1/checkr", "/api/accounts/P2/checkr", "/health"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.InDelta(t, beforeRouted+2, testutil.ToFloat64(routed), 0.001, "account ids collapse into the route pattern")
	assert.InDelta(t, beforeHealth, testutil.ToFloat64(health), 0.001, "health probes are not recorded")
}

func TestHTTPMetricsMiddleware_Noop(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(HTTPMetricsMiddleware(NewNoopMetrics()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

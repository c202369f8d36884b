package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Paths never recorded: scrapes and probes would drown real traffic
var unrecordedPaths = map[string]struct{}{
	"/metrics": {},
	"/health":  {},
}

// HTTPMetricsMiddleware creates a Gin middleware that records HTTP metrics.
// Anything other than *Metrics gets a pass-through handler.
func HTTPMetricsMiddleware(m Recorder) gin.HandlerFunc {
	metrics, ok := m.(*Metrics)
	if !ok {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if _, skip := unrecordedPaths[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		start := time.Now()
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		// Route pattern keeps partner account ids out of label values
		path := routeLabel(c.FullPath())
		metrics.HTTPRequestsTotal.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Inc()
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// routeLabel returns the route pattern (e.g. "/api/accounts/:id/checkr"),
// or "unknown" for unmatched requests
func routeLabel(fullPath string) string {
	if fullPath == "" {
		return "unknown"
	}
	return fullPath
}

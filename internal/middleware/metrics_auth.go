package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-authgate/checkrgate/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MetricsAuthMiddleware protects the metrics endpoint with a static Bearer token.
// An empty token leaves the endpoint open.
func MetricsAuthMiddleware(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return BearerTokenAuth(token, "Metrics", "metrics")
}

// BearerTokenAuth requires "Authorization: Bearer <token>". The comparison is
// constant-time. token must not be empty.
func BearerTokenAuth(token, realm, component string) gin.HandlerFunc {
	challenge := `Bearer realm="` + realm + `"`
	return func(c *gin.Context) {
		provided, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			logger.L().Warn(component+".unauthorized",
				zap.String("component", component),
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.FullPath()),
				zap.Bool("bearer_present", ok),
			)
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		c.Next()
	}
}

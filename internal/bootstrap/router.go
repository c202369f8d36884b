package bootstrap

import (
	"net/http"

	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/core"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/metrics"
	"github.com/go-authgate/checkrgate/internal/middleware"
	"github.com/go-authgate/checkrgate/internal/store"
	"github.com/go-authgate/checkrgate/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// setupRouter configures the Gin router with all routes and middleware
func setupRouter(
	cfg *config.Config,
	db *store.Store,
	h handlerSet,
	recorder core.Recorder,
	rateLimitRedisClient *redis.Client,
) (*gin.Engine, error) {
	setupGinMode(cfg)
	r := gin.New()

	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.Use(util.RequestInfoMiddleware())

	r.GET("/health", createHealthCheckHandler(db))
	setupMetricsEndpoint(r, cfg)

	rateLimiters, err := setupRateLimiting(cfg, rateLimitRedisClient)
	if err != nil {
		return nil, err
	}

	setupAllRoutes(r, cfg, h, recorder, rateLimiters)
	return r, nil
}

// setupMetricsEndpoint configures the Prometheus metrics endpoint
func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config) {
	log := logger.L().With(zap.String("component", "bootstrap"))
	switch {
	case !cfg.MetricsEnabled:
		log.Info("metrics.endpoint_disabled")
	case cfg.MetricsToken != "":
		log.Info("metrics.endpoint_enabled", zap.Bool("auth", true))
		r.GET(
			"/metrics",
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		log.Info("metrics.endpoint_enabled", zap.Bool("auth", false))
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// setupAllRoutes configures all application routes
func setupAllRoutes(
	r *gin.Engine,
	cfg *config.Config,
	h handlerSet,
	recorder core.Recorder,
	rateLimiters rateLimitMiddlewares,
) {
	checkrGroup := r.Group("/checkr")
	{
		checkrGroup.GET("/connect", rateLimiters.connect, h.checkr.Connect)
		checkrGroup.GET("/oauth/callback", rateLimiters.callback, h.checkr.Callback)
		checkrGroup.POST("/disconnect", rateLimiters.disconnect, h.checkr.Disconnect)
		checkrGroup.POST("/webhooks",
			middleware.WebhookSignature(
				cfg.CheckrWebhookSecret,
				cfg.CheckrSignatureHeader,
				recorder,
				h.webhook.SignatureRejected,
			),
			h.webhook.Handle,
		)
	}

	setupAccountRoutes(r, cfg, h)
}

// setupAccountRoutes mounts the account API behind a bearer token.
// Without ACCOUNT_API_TOKEN the routes are not registered.
func setupAccountRoutes(r *gin.Engine, cfg *config.Config, h handlerSet) {
	if cfg.AccountAPIToken == "" {
		logger.L().Info("account_api.disabled", zap.String("component", "bootstrap"))
		return
	}

	api := r.Group("/api/accounts/:id",
		middleware.BearerTokenAuth(cfg.AccountAPIToken, "Accounts", "account_api"))
	{
		api.GET("/checkr", h.account.Status)
		api.GET("/checkr/events", h.account.Events)
	}
}

// createHealthCheckHandler reports database connectivity
func createHealthCheckHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch err := db.Health(c.Request.Context()); err {
		case nil:
			c.JSON(http.StatusOK, gin.H{
				"status":   "healthy",
				"database": "connected",
			})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "disconnected",
			})
		}
	}
}

func setupGinMode(cfg *config.Config) {
	mode := gin.DebugMode
	if cfg.IsProduction {
		mode = gin.ReleaseMode
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(mode)
	}
}

package bootstrap

import (
	"fmt"

	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rateLimitMiddlewares holds rate limiting middlewares for different endpoints.
// Webhooks are never limited so Checkr redeliveries are not dropped.
type rateLimitMiddlewares struct {
	connect    gin.HandlerFunc
	callback   gin.HandlerFunc
	disconnect gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration
func setupRateLimiting(
	cfg *config.Config,
	redisClient *redis.Client,
) (rateLimitMiddlewares, error) {
	if !cfg.EnableRateLimit {
		noOp := func(c *gin.Context) { c.Next() }
		return rateLimitMiddlewares{connect: noOp, callback: noOp, disconnect: noOp}, nil
	}
	return createRateLimiters(cfg, redisClient)
}

// createRateLimiters creates rate limiting middlewares for all endpoints
func createRateLimiters(
	cfg *config.Config,
	redisClient *redis.Client,
) (rateLimitMiddlewares, error) {
	storeType := middleware.RateLimitStoreType(cfg.RateLimitStore)
	logger.L().Info("ratelimit.enabled",
		zap.String("component", "bootstrap"),
		zap.String("store", cfg.RateLimitStore),
	)

	var firstErr error
	createLimiter := func(requestsPerMinute int, endpoint string) gin.HandlerFunc {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: requestsPerMinute,
			KeyPrefix:         endpoint,
			StoreType:         storeType,
			RedisClient:       redisClient,
			CleanupInterval:   cfg.RateLimitCleanupInterval,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to create rate limiter for %s: %w", endpoint, err)
		}
		return limiter
	}

	limiters := rateLimitMiddlewares{
		connect:    createLimiter(cfg.ConnectRateLimit, "connect"),
		callback:   createLimiter(cfg.ConnectRateLimit, "callback"),
		disconnect: createLimiter(cfg.DisconnectRateLimit, "disconnect"),
	}
	if firstErr != nil {
		return rateLimitMiddlewares{}, firstErr
	}
	return limiters, nil
}

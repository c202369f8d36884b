package bootstrap

import (
	"github.com/go-authgate/checkrgate/internal/cache"
	"github.com/go-authgate/checkrgate/internal/checkr"
	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/core"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/services"
	"github.com/go-authgate/checkrgate/internal/store"
	"github.com/go-authgate/checkrgate/internal/util"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// accountCacheKeyPrefix namespaces cached Checkr accounts in a shared Redis
const accountCacheKeyPrefix = "checkrgate:account:"

// initializeAccountCache returns the Checkr account cache, or nil when disabled
func initializeAccountCache(cfg *config.Config, redisClient *redis.Client) core.Cache[checkr.Account] {
	if cfg.AccountCacheTTL <= 0 {
		return nil
	}

	logger.L().Info("account_cache.enabled",
		zap.String("component", "bootstrap"),
		zap.String("store", cfg.AccountCacheStore),
		zap.Duration("ttl", cfg.AccountCacheTTL),
	)
	if cfg.AccountCacheStore == config.AccountCacheStoreRedis && redisClient != nil {
		return cache.NewRedisCache[checkr.Account](redisClient, accountCacheKeyPrefix)
	}
	return cache.NewMemoryCache[checkr.Account]()
}

// initializeServices creates the audit and authorization services
func initializeServices(
	cfg *config.Config,
	db *store.Store,
	client *checkr.Client,
	cipher *util.Cipher,
	m core.Recorder,
	accountCache core.Cache[checkr.Account],
) (*services.AuditService, *services.AuthorizationService) {
	auditService := services.NewAuditService(db, cfg.EnableAuditLogging, cfg.AuditLogBufferSize)
	authorizationService := services.NewAuthorizationService(
		db, client, cipher, auditService, m,
		services.WithAccountCache(accountCache, cfg.AccountCacheTTL),
	)
	return auditService, authorizationService
}

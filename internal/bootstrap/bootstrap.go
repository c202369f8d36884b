package bootstrap

import (
	"context"
	"net/http"

	"github.com/go-authgate/checkrgate/internal/checkr"
	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/core"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/services"
	"github.com/go-authgate/checkrgate/internal/store"
	"github.com/go-authgate/checkrgate/internal/util"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Application holds all initialized components
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB              *store.Store
	MetricsRecorder core.Recorder
	RedisClient     *redis.Client
	AccountCache    core.Cache[checkr.Account]
	CheckrClient    *checkr.Client
	Cipher          *util.Cipher

	// Services
	AuditService         *services.AuditService
	AuthorizationService *services.AuthorizationService

	// HTTP
	HandlerSet handlerSet
	Router     *gin.Engine
	Server     *http.Server
}

// Run initializes and starts the application
func Run(ctx context.Context, cfg *config.Config) error {
	app := &Application{Config: cfg}

	// Phase 1: Validate configuration
	if err := validateAllConfiguration(cfg); err != nil {
		return err
	}

	// Phase 2: Initialize infrastructure
	if err := app.initializeInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return err
	}

	// Phase 3: Initialize business layer
	app.initializeBusinessLayer()

	// Phase 4: Initialize HTTP layer
	if err := app.initializeHTTPLayer(); err != nil {
		app.closeInfrastructure()
		return err
	}

	// Phase 5: Start server with graceful shutdown
	app.startWithGracefulShutdown()

	return nil
}

// initializeInfrastructure sets up database, metrics, Redis, caches and the Checkr client
func (app *Application) initializeInfrastructure(ctx context.Context) error {
	var err error

	app.DB, err = initializeDatabase(ctx, app.Config)
	if err != nil {
		return err
	}

	app.MetricsRecorder = initializeMetrics(app.Config)

	app.RedisClient, err = initializeRedisClient(ctx, app.Config)
	if err != nil {
		return err
	}

	app.AccountCache = initializeAccountCache(app.Config, app.RedisClient)

	app.CheckrClient, err = initializeCheckrClient(app.Config)
	if err != nil {
		return err
	}

	app.Cipher, err = util.NewCipher(app.Config.EncryptionKey)
	if err != nil {
		return err
	}

	return nil
}

// closeInfrastructure releases whatever was opened before a startup failure
func (app *Application) closeInfrastructure() {
	if app.RedisClient != nil {
		_ = app.RedisClient.Close()
	}
	if app.DB != nil {
		_ = app.DB.Close()
	}
}

// initializeBusinessLayer sets up services
func (app *Application) initializeBusinessLayer() {
	app.AuditService, app.AuthorizationService = initializeServices(
		app.Config,
		app.DB,
		app.CheckrClient,
		app.Cipher,
		app.MetricsRecorder,
		app.AccountCache,
	)
}

// initializeHTTPLayer sets up handlers, router, and server
func (app *Application) initializeHTTPLayer() error {
	app.HandlerSet = initializeHandlers(app.Config, app.AuthorizationService, app.AuditService)

	var err error
	app.Router, err = setupRouter(
		app.Config,
		app.DB,
		app.HandlerSet,
		app.MetricsRecorder,
		app.RedisClient,
	)
	if err != nil {
		return err
	}

	app.Server = createHTTPServer(app.Config, app.Router)
	return nil
}

// startWithGracefulShutdown starts the server and handles graceful shutdown
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, app.Server)
	addServerShutdownJob(m, app.Server)
	addAuditLogCleanupJob(m, app.Config, app.AuditService)
	addMetricsGaugeUpdateJob(m, app.Config, app.AuthorizationService)
	// Shutdown jobs run concurrently; the audit flush and DB close are
	// ordered inside one job.
	addStorageShutdownJob(m, app.AuditService, app.DB)
	addRedisClientShutdownJob(m, app.RedisClient)

	<-m.Done()
	logger.L().Info("server.stopped", zap.String("component", "bootstrap"))
	logger.Sync()
}

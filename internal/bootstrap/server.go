package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/services"
	"github.com/go-authgate/checkrgate/internal/store"

	"github.com/appleboy/graceful"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// createHTTPServer creates the HTTP server instance
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func serverLog() *zap.Logger {
	return logger.L().With(zap.String("component", "server"))
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			serverLog().Info("server.listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			serverLog().Fatal("server.listen_failed", zap.Error(err))
			return err
		case <-ctx.Done():
			return nil
		}
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(m *graceful.Manager, srv *http.Server) {
	m.AddShutdownJob(func() error {
		serverLog().Info("server.shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			serverLog().Error("server.forced_shutdown", zap.Error(err))
			return err
		}

		serverLog().Info("server.exited")
		return nil
	})
}

// addRedisClientShutdownJob adds Redis client shutdown handler
func addRedisClientShutdownJob(m *graceful.Manager, redisClient *redis.Client) {
	if redisClient == nil {
		return
	}

	m.AddShutdownJob(func() error {
		if err := redisClient.Close(); err != nil {
			serverLog().Error("redis.close_failed", zap.Error(err))
			return err
		}
		serverLog().Info("redis.closed")
		return nil
	})
}

// addStorageShutdownJob flushes the audit queue and then closes the database
func addStorageShutdownJob(
	m *graceful.Manager,
	auditService *services.AuditService,
	db *store.Store,
) {
	m.AddShutdownJob(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := auditService.Shutdown(ctx); err != nil {
			serverLog().Error("audit.shutdown_failed", zap.Error(err))
			errs = append(errs, err)
		}
		if err := db.Close(); err != nil {
			serverLog().Error("database.close_failed", zap.Error(err))
			errs = append(errs, err)
		} else {
			serverLog().Info("database.closed")
		}
		return errors.Join(errs...)
	})
}

// addAuditLogCleanupJob adds periodic audit log cleanup job
func addAuditLogCleanupJob(
	m *graceful.Manager,
	cfg *config.Config,
	auditService *services.AuditService,
) {
	if !cfg.EnableAuditLogging || cfg.AuditLogRetention <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		// Run cleanup immediately on startup
		cleanupAuditLogs(ctx, auditService, cfg.AuditLogRetention)

		for {
			select {
			case <-ticker.C:
				cleanupAuditLogs(ctx, auditService, cfg.AuditLogRetention)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func cleanupAuditLogs(ctx context.Context, auditService *services.AuditService, retention time.Duration) {
	deleted, err := auditService.CleanupOldLogs(ctx, retention)
	switch {
	case err != nil:
		serverLog().Error("audit.cleanup_failed", zap.Error(err))
	case deleted > 0:
		serverLog().Info("audit.cleaned_up", zap.Int64("deleted", deleted))
	}
}

// addMetricsGaugeUpdateJob adds periodic authorization gauge update job
func addMetricsGaugeUpdateJob(
	m *graceful.Manager,
	cfg *config.Config,
	authorizationService *services.AuthorizationService,
) {
	if !cfg.MetricsEnabled || cfg.MetricsGaugeUpdateInterval <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.MetricsGaugeUpdateInterval)
		defer ticker.Stop()

		errLog := newErrorLogger(5 * time.Minute)

		// Update immediately on startup
		if err := authorizationService.UpdateGauges(ctx); err != nil {
			errLog.logIfNeeded("count_authorizations", err)
		}

		for {
			select {
			case <-ticker.C:
				if err := authorizationService.UpdateGauges(ctx); err != nil {
					errLog.logIfNeeded("count_authorizations", err)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// errorLogger handles rate-limited error logging
type errorLogger struct {
	mu              sync.Mutex
	lastErrorTimes  map[string]time.Time
	rateLimitWindow time.Duration
	now             func() time.Time
	log             *zap.Logger
}

// newErrorLogger creates a new error logger that logs each operation at most once per window
func newErrorLogger(window time.Duration) *errorLogger {
	return &errorLogger{
		lastErrorTimes:  make(map[string]time.Time),
		rateLimitWindow: window,
		now:             time.Now,
		log:             serverLog(),
	}
}

// logIfNeeded logs an error only if rate limit allows. Reports whether it logged.
func (e *errorLogger) logIfNeeded(operation string, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	lastTime, exists := e.lastErrorTimes[operation]
	if exists && now.Sub(lastTime) < e.rateLimitWindow {
		return false
	}

	e.log.Error("metrics.gauge_query_failed",
		zap.String("operation", operation),
		zap.Error(err),
		zap.Duration("suppressed_for", e.rateLimitWindow),
	)
	e.lastErrorTimes[operation] = now
	return true
}

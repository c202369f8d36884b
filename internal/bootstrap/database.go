package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/store"

	"go.uber.org/zap"
)

// initializeDatabase creates and initializes the database connection
func initializeDatabase(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DBInitTimeout)
	defer cancel()

	db, err := store.New(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.L().Info("database.ready",
		zap.String("component", "bootstrap"),
		zap.String("driver", cfg.DatabaseDriver),
	)
	return db, nil
}

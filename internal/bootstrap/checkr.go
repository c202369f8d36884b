package bootstrap

import (
	"github.com/go-authgate/checkrgate/internal/checkr"
	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/core"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/metrics"

	"go.uber.org/zap"
)

// initializeCheckrClient builds the Checkr OAuth and API client
func initializeCheckrClient(cfg *config.Config) (*checkr.Client, error) {
	return checkr.NewClient(checkr.Config{
		ClientID:           cfg.CheckrClientID,
		ClientSecret:       cfg.CheckrClientSecret,
		OAuthBaseURL:       cfg.CheckrOAuthBaseURL,
		APIBaseURL:         cfg.CheckrAPIBaseURL,
		PartnerBaseURL:     cfg.CheckrPartnerBaseURL,
		Timeout:            cfg.CheckrTimeout,
		InsecureSkipVerify: cfg.CheckrInsecureSkipVerify,
		MaxRetries:         cfg.CheckrAPIMaxRetries,
		RetryDelay:         cfg.CheckrAPIRetryDelay,
		MaxRetryDelay:      cfg.CheckrAPIMaxRetryDelay,
	})
}

// initializeMetrics returns the Prometheus recorder or a no-op one
func initializeMetrics(cfg *config.Config) core.Recorder {
	m := metrics.Init(cfg.MetricsEnabled)
	logger.L().Info("metrics.ready",
		zap.String("component", "bootstrap"),
		zap.Bool("enabled", cfg.MetricsEnabled),
	)
	return m
}

package bootstrap

import (
	"github.com/go-authgate/checkrgate/internal/config"
	"github.com/go-authgate/checkrgate/internal/handlers"
	"github.com/go-authgate/checkrgate/internal/services"
)

// handlerSet holds all HTTP handlers
type handlerSet struct {
	checkr  *handlers.CheckrHandler
	webhook *handlers.WebhookHandler
	account *handlers.AccountHandler
}

// initializeHandlers creates all HTTP handlers
func initializeHandlers(
	cfg *config.Config,
	authorizationService *services.AuthorizationService,
	auditService *services.AuditService,
) handlerSet {
	return handlerSet{
		checkr:  handlers.NewCheckrHandler(authorizationService, cfg.AppBaseURL),
		webhook: handlers.NewWebhookHandler(authorizationService),
		account: handlers.NewAccountHandler(authorizationService, auditService),
	}
}

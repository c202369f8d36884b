package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-authgate/checkrgate/internal/services"
	"github.com/go-authgate/checkrgate/internal/webhook"

	"github.com/gin-gonic/gin"
)

// WebhookHandler dispatches Checkr notifications. It must be mounted behind
// middleware.WebhookSignature, which supplies the verified body.
type WebhookHandler struct {
	authorizationService *services.AuthorizationService
}

func NewWebhookHandler(as *services.AuthorizationService) *WebhookHandler {
	return &WebhookHandler{authorizationService: as}
}

// SignatureRejected records a delivery refused by the signature middleware
func (h *WebhookHandler) SignatureRejected(ctx context.Context, reason string) {
	h.authorizationService.RecordSignatureRejected(ctx, reason)
}

// Handle godoc
//
//	@Summary	Receive a Checkr webhook
//	@Tags		Checkr
//	@Accept		json
//	@Success	200	"credentialed or ignored"
//	@Success	204	"deauthorized"
//	@Failure	400	{object}	object{error=string}
//	@Failure	404	{object}	object{error=string}	"record not written yet; Checkr will retry"
//	@Failure	500	{object}	object{error=string}
//	@Router		/checkr/webhooks [post]
func (h *WebhookHandler) Handle(c *gin.Context) {
	raw, ok := c.Get(webhook.RawBodyKey)
	body, isBytes := raw.([]byte)
	if !ok || !isBytes {
		// Unsigned bodies never reach dispatch
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	n, err := webhook.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_notification"})
		return
	}

	outcome, err := h.authorizationService.HandleNotification(c.Request.Context(), n)
	switch {
	case errors.Is(err, services.ErrRecordNotFoundRetryable):
		c.JSON(http.StatusNotFound, gin.H{"error": "record_not_found"})
	case err != nil:
		respondInternalError(c, err)
	case outcome == services.OutcomeDeauthorized:
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	}
}

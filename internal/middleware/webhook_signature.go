package middleware

import (
	"context"
	"io"
	"net/http"

	"github.com/go-authgate/checkrgate/internal/core"
	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxWebhookBodySize caps the bytes read from a webhook delivery
const MaxWebhookBodySize = 1 << 20

// Rejection reasons passed to a SignatureRejectHook
const (
	RejectBodyUnreadable   = "body_unreadable"
	RejectSignatureMissing = "signature_missing"
	RejectSignatureInvalid = "signature_invalid"
)

// SignatureRejectHook is told about every rejected delivery
type SignatureRejectHook func(ctx context.Context, reason string)

// WebhookSignature verifies the HMAC signature over the raw request body
// before any handler runs. Verified bytes are stored under webhook.RawBodyKey.
// onReject may be nil.
func WebhookSignature(
	secret, headerName string,
	recorder core.Recorder,
	onReject SignatureRejectHook,
) gin.HandlerFunc {
	key := []byte(secret)
	log := logger.L().With(zap.String("component", "webhook"))

	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodySize))
		if err != nil {
			log.Warn("webhook.body_unreadable",
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err),
			)
			reject(c, recorder, onReject, RejectBodyUnreadable)
			return
		}

		header := c.GetHeader(headerName)
		if !webhook.Verify(header, body, key) {
			reason := RejectSignatureInvalid
			if header == "" {
				reason = RejectSignatureMissing
			}
			log.Warn("webhook.signature_rejected",
				zap.String("client_ip", c.ClientIP()),
				zap.String("reason", reason),
				zap.Int("body_bytes", len(body)),
			)
			reject(c, recorder, onReject, reason)
			return
		}

		c.Set(webhook.RawBodyKey, body)
		c.Next()
	}
}

func reject(c *gin.Context, recorder core.Recorder, onReject SignatureRejectHook, reason string) {
	recorder.RecordWebhookSignatureFailure()
	if onReject != nil {
		onReject(c.Request.Context(), reason)
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
}

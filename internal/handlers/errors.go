package handlers

import (
	"errors"
	"net/http"

	"github.com/go-authgate/checkrgate/internal/checkr"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// respondProviderError writes the response for a failed Checkr call.
// A rejection is relayed to the caller with the provider's body unchanged.
func respondProviderError(c *gin.Context, err error) bool {
	var providerErr *checkr.ProviderError
	switch {
	case errors.As(err, &providerErr):
		contentType := "text/plain; charset=utf-8"
		if gjson.ValidBytes(providerErr.Body) {
			contentType = "application/json; charset=utf-8"
		}
		c.Data(http.StatusUnprocessableEntity, contentType, providerErr.Body)
	case errors.Is(err, checkr.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":             "provider_unavailable",
			"error_description": "Checkr could not be reached",
		})
	case errors.Is(err, checkr.ErrProviderInvalidResponse):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":             "provider_invalid_response",
			"error_description": "Checkr returned an unusable response",
		})
	default:
		return false
	}
	return true
}

func respondInternalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
}

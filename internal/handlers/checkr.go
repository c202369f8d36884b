package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-authgate/checkrgate/internal/services"

	"github.com/gin-gonic/gin"
)

// CheckrHandler serves the OAuth connect flow and self-service disconnect
type CheckrHandler struct {
	authorizationService *services.AuthorizationService
	appBaseURL           string
}

func NewCheckrHandler(as *services.AuthorizationService, appBaseURL string) *CheckrHandler {
	return &CheckrHandler{
		authorizationService: as,
		appBaseURL:           appBaseURL,
	}
}

// Connect godoc
//
//	@Summary	Start the Checkr connect flow
//	@Tags		Checkr
//	@Param		account_id	query	string	true	"Partner account id"
//	@Success	302
//	@Failure	400	{object}	object{error=string,error_description=string}
//	@Router		/checkr/connect [get]
func (h *CheckrHandler) Connect(c *gin.Context) {
	target, err := h.authorizationService.ConnectURL(c.Query("account_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "account_id is required",
		})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Callback godoc
//
//	@Summary	Complete the Checkr connect flow
//	@Tags		Checkr
//	@Param		code	query	string	true	"Authorization code"
//	@Param		state	query	string	true	"Partner account id"
//	@Success	302
//	@Failure	400	{object}	object{error=string,error_description=string}
//	@Failure	422	{object}	object	"Checkr error payload, unchanged"
//	@Failure	502	{object}	object{error=string,error_description=string}
//	@Router		/checkr/oauth/callback [get]
func (h *CheckrHandler) Callback(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             providerErr,
			"error_description": c.Query("error_description"),
		})
		return
	}

	state := c.Query("state")
	_, err := h.authorizationService.Connect(c.Request.Context(), state, c.Query("code"))
	switch {
	case err == nil:
		c.Redirect(http.StatusFound, h.appBaseURL+"/accounts/"+url.PathEscape(state))
	case errors.Is(err, services.ErrInvalidConnectRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "code and state are required",
		})
	case respondProviderError(c, err):
	default:
		respondInternalError(c, err)
	}
}

type disconnectRequest struct {
	EncryptedAccessToken string `json:"encrypted_access_token" binding:"required"`
}

// Disconnect godoc
//
//	@Summary		Revoke a stored Checkr credential
//	@Description	Asks Checkr to deauthorize the token. Local state changes when the token.deauthorized webhook arrives.
//	@Tags			Checkr
//	@Accept			json
//	@Param			body	body	disconnectRequest	true	"Stored credential"
//	@Success		204
//	@Failure		400	{object}	object{error=string,error_description=string}
//	@Failure		422	{object}	object	"Checkr error payload, unchanged"
//	@Failure		502	{object}	object{error=string,error_description=string}
//	@Router			/checkr/disconnect [post]
func (h *CheckrHandler) Disconnect(c *gin.Context) {
	var req disconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "encrypted_access_token is required",
		})
		return
	}

	err := h.authorizationService.Revoke(c.Request.Context(), req.EncryptedAccessToken)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, services.ErrInvalidCredential):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_credential",
			"error_description": "encrypted_access_token could not be decrypted",
		})
	case respondProviderError(c, err):
	default:
		respondInternalError(c, err)
	}
}

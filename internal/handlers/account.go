package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-authgate/checkrgate/internal/models"
	"github.com/go-authgate/checkrgate/internal/services"
	"github.com/go-authgate/checkrgate/internal/store"

	"github.com/gin-gonic/gin"
)

// AccountHandler exposes read-only views of a partner account's authorization
type AccountHandler struct {
	authorizationService *services.AuthorizationService
	auditService         *services.AuditService
}

func NewAccountHandler(as *services.AuthorizationService, audit *services.AuditService) *AccountHandler {
	return &AccountHandler{authorizationService: as, auditService: audit}
}

// Status godoc
//
//	@Summary	Checkr authorization status for a partner account
//	@Tags		Accounts
//	@Param		id		path	string	true	"Partner account id"
//	@Param		refresh	query	bool	false	"Also fetch the Checkr account when credentialed"
//	@Success	200	{object}	services.AuthorizationStatus
//	@Failure	404	{object}	object{error=string}
//	@Router		/api/accounts/{id}/checkr [get]
func (h *AccountHandler) Status(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))

	status, err := h.authorizationService.Status(c.Request.Context(), c.Param("id"), refresh)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, status)
	case errors.Is(err, store.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case respondProviderError(c, err):
	default:
		respondInternalError(c, err)
	}
}

// Events godoc
//
//	@Summary	Audit trail for a partner account's Checkr authorization
//	@Tags		Accounts
//	@Param		id			path	string	true	"Partner account id"
//	@Param		page		query	int		false	"Page number"
//	@Param		page_size	query	int		false	"Page size"
//	@Success	200	{object}	object{events=[]models.AuditLog,pagination=store.PaginationResult}
//	@Router		/api/accounts/{id}/checkr/events [get]
func (h *AccountHandler) Events(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	events, pagination, err := h.auditService.ListAccountEvents(
		c.Request.Context(),
		c.Param("id"),
		store.NewPaginationParams(page, pageSize),
	)
	if err != nil {
		respondInternalError(c, err)
		return
	}
	if events == nil {
		events = []models.AuditLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"pagination": pagination,
	})
}

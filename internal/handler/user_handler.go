package handler

import (
	"net/http"

	"careline-chat/internal/services"
	"careline-chat/internal/transport/httpdto"
	careline_errors "careline-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UserHandler exposes the read-only user directory.
type UserHandler struct {
	service         *services.UserService
	presenceService *services.PresenceService
}

func NewUserHandler(service *services.UserService, presenceService *services.PresenceService) *UserHandler {
	return &UserHandler{service: service, presenceService: presenceService}
}

// Get returns one user's public profile with presence.
func (h *UserHandler) Get(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	targetID, err := pathUUID(c, "userId")
	if err != nil {
		writeError(c, err)
		return
	}

	entry, err := h.service.GetProfile(c.Request.Context(), targetID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(entry))
}

// Presence returns a user's presence row.
func (h *UserHandler) Presence(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	targetID, err := pathUUID(c, "userId")
	if err != nil {
		writeError(c, err)
		return
	}

	p, err := h.presenceService.Get(c.Request.Context(), targetID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"userId":   targetID,
		"isOnline": p.IsOnline,
		"lastSeen": p.LastSeen,
	}))
}

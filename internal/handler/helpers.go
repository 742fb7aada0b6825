// Package handler provides the HTTP fallback for clients without a live
// gateway connection. Each mutating endpoint mirrors the gateway's room
// broadcasts when a hub is attached.
package handler

import (
	"net/http"

	"careline-chat/internal/services"
	"careline-chat/internal/transport/httpdto"
	careline_errors "careline-chat/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func writeError(c *gin.Context, err error) {
	status := services.StatusFromError(err)
	msg := err.Error()
	code := "INTERNAL_ERROR"
	switch status {
	case http.StatusBadRequest:
		code = "BAD_REQUEST"
	case http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case http.StatusForbidden:
		code = "FORBIDDEN"
	case http.StatusNotFound:
		code = "NOT_FOUND"
	case http.StatusConflict:
		code = "CONFLICT"
	default:
		// Do not leak internals on unexpected failures.
		msg = "internal error"
	}
	c.JSON(status, httpdto.NewErrorResponse(msg, code))
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	return services.UserIDFromContext(c.Request.Context())
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, careline_errors.ErrInvalidInput
	}
	return id, nil
}

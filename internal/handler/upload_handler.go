package handler

import (
	"net/http"
	"time"

	"careline-chat/internal/services"
	"careline-chat/internal/storage"
	"careline-chat/internal/transport/httpdto"
	careline_errors "careline-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UploadHandler issues presigned URLs for chat media. Clients upload the
// object first, then send a MEDIA message referencing it.
type UploadHandler struct {
	store       *storage.MediaStore
	chatService *services.ChatService
	presignTTL  time.Duration
}

func NewUploadHandler(store *storage.MediaStore, chatService *services.ChatService, presignTTL time.Duration) *UploadHandler {
	return &UploadHandler{store: store, chatService: chatService, presignTTL: presignTTL}
}

// Presign validates chat access and returns a presigned PUT URL.
func (h *UploadHandler) Presign(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("media uploads not configured", "UNAVAILABLE"))
		return
	}

	var req httpdto.PresignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	// Uploads are scoped to chats the caller can access.
	if _, err := h.chatService.GetSession(c.Request.Context(), userID, req.ChatID); err != nil {
		writeError(c, err)
		return
	}

	key, err := h.store.ObjectKey(req.ChatID, req.ContentType)
	if err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	uploadURL, headers, err := h.store.PresignUpload(c.Request.Context(), key, req.ContentType, req.SizeBytes)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PresignUploadResponse{
		UploadURL: uploadURL,
		Key:       key,
		Headers:   headers,
		ExpiresIn: int64(h.presignTTL.Seconds()),
	}))
}

// Download returns a presigned GET URL for a stored object.
func (h *UploadHandler) Download(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("media uploads not configured", "UNAVAILABLE"))
		return
	}

	key := c.Query("key")
	if key == "" {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	url, err := h.store.PresignDownload(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"downloadURL": url}))
}

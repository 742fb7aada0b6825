package handler

import (
	"net/http"

	"careline-chat/internal/repository"
	"careline-chat/internal/server"
	"careline-chat/internal/services"
	"careline-chat/internal/transport/httpdto"
	careline_errors "careline-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// MessageHandler exposes message operations over HTTP.
type MessageHandler struct {
	service *services.MessageService
	hub     *server.Hub
}

func NewMessageHandler(service *services.MessageService, hub *server.Hub) *MessageHandler {
	return &MessageHandler{service: service, hub: hub}
}

// List returns a page of chat history, oldest first.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	chatID, err := pathUUID(c, "chatId")
	if err != nil {
		writeError(c, err)
		return
	}

	var q httpdto.ListMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	messages, pagination, err := h.service.ListMessages(c.Request.Context(), userID, chatID, repository.MessageFilter{
		Page:   q.Page,
		Limit:  q.Limit,
		Before: q.Before,
		After:  q.After,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"messages":   messages,
		"pagination": pagination,
	}))
}

// Send persists a message and mirrors the gateway fan-out.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	chatID, err := pathUUID(c, "chatId")
	if err != nil {
		writeError(c, err)
		return
	}

	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	view, err := h.service.Send(c.Request.Context(), userID, chatID, services.SendInput{
		Type:      req.Type,
		Content:   req.Content,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
		MediaSize: req.MediaSize,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.EmitToRoom(chatID, userID, server.EvtMessageReceived, view)
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(view))
}

// Edit rewrites a TEXT message within the edit window.
func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	messageID, err := pathUUID(c, "messageId")
	if err != nil {
		writeError(c, err)
		return
	}

	var req httpdto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	view, err := h.service.Edit(c.Request.Context(), userID, messageID, req.NewContent)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.EmitToRoom(view.ChatID, userID, server.EvtMessageEdited, gin.H{
			"id":       view.ID,
			"chatId":   view.ChatID,
			"content":  view.Content,
			"isEdited": view.IsEdited,
			"editedAt": view.EditedAt,
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

// Delete removes a message; sender or group admin only.
func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	messageID, err := pathUUID(c, "messageId")
	if err != nil {
		writeError(c, err)
		return
	}

	chatID, err := h.service.Delete(c.Request.Context(), userID, messageID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.EmitToRoom(chatID, userID, server.EvtMessageDeleted, gin.H{
			"messageId": messageID,
			"chatId":    chatID,
			"deletedBy": userID,
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"messageId": messageID}))
}

// MarkRead records read receipts for a batch of messages.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	chatID, err := pathUUID(c, "chatId")
	if err != nil {
		writeError(c, err)
		return
	}

	var req httpdto.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	readAt, err := h.service.MarkRead(c.Request.Context(), userID, chatID, req.MessageIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.EmitToRoom(chatID, userID, server.EvtMessagesRead, gin.H{
			"chatId":     chatID,
			"messageIds": req.MessageIDs,
			"readBy":     userID,
			"readAt":     readAt,
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"marked": len(req.MessageIDs), "readAt": readAt}))
}

// UnreadCount returns the caller's unread total for a chat.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	chatID, err := pathUUID(c, "chatId")
	if err != nil {
		writeError(c, err)
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID, chatID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"unreadCount": count}))
}

// Search finds messages by content substring.
func (h *MessageHandler) Search(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}
	chatID, err := pathUUID(c, "chatId")
	if err != nil {
		writeError(c, err)
		return
	}

	var q httpdto.SearchMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	messages, pagination, err := h.service.Search(c.Request.Context(), userID, chatID, q.Query, q.Page, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"messages":   messages,
		"pagination": pagination,
	}))
}

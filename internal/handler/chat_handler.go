package handler

import (
	"net/http"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/repository"
	"careline-chat/internal/server"
	"careline-chat/internal/services"
	"careline-chat/internal/transport/httpdto"
	careline_errors "careline-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ChatHandler exposes chat session lifecycle over HTTP.
type ChatHandler struct {
	service *services.ChatService
	hub     *server.Hub
}

func NewChatHandler(service *services.ChatService, hub *server.Hub) *ChatHandler {
	return &ChatHandler{service: service, hub: hub}
}

// List returns the caller's sessions with unread counts and previews.
func (h *ChatHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}

	var q httpdto.ListChatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	sessions, pagination, err := h.service.ListSessions(c.Request.Context(), userID, repository.ChatFilter{
		Page:   q.Page,
		Limit:  q.Limit,
		Search: q.Search,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"chats":      sessions,
		"pagination": pagination,
	}))
}

// Get returns one session with its live participant list.
func (h *ChatHandler) Get(c *gin.Context) {
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

	detail, err := h.service.GetSession(c.Request.Context(), userID, chatID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(detail))
}

// Create makes a DIRECT or GROUP session.
func (h *ChatHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		writeError(c, careline_errors.ErrUnauthorized)
		return
	}

	var req httpdto.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	var result services.CreateResult
	var err error
	switch req.Type {
	case chat.TypeDirect:
		if req.TargetUserID == nil {
			writeError(c, careline_errors.ErrInvalidInput)
			return
		}
		result, err = h.service.CreateDirect(c.Request.Context(), userID, *req.TargetUserID)
	case chat.TypeGroup:
		result, err = h.service.CreateGroup(c.Request.Context(), userID, req.Name, req.Description)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil && !result.IsExisting {
		h.hub.EmitToUser(userID, server.EvtChatCreated, result)
		if req.Type == chat.TypeDirect && req.TargetUserID != nil {
			h.hub.EmitToUser(*req.TargetUserID, server.EvtChatCreated, result)
		}
	}

	status := http.StatusCreated
	if result.IsExisting {
		status = http.StatusOK
	}
	c.JSON(status, httpdto.NewSuccessResponse(result))
}

// Update changes group metadata; ADMIN only.
func (h *ChatHandler) Update(c *gin.Context) {
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

	var req httpdto.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, careline_errors.ErrInvalidInput)
		return
	}

	sess, err := h.service.UpdateGroup(c.Request.Context(), userID, chatID, services.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	payload := gin.H{"chatId": sess.ID}
	if sess.Name.Valid {
		payload["name"] = sess.Name.String
	}
	if sess.Description.Valid {
		payload["description"] = sess.Description.String
	}
	if sess.AvatarURL.Valid {
		payload["avatarURL"] = sess.AvatarURL.String
	}
	if h.hub != nil {
		h.hub.EmitToRoom(chatID, userID, server.EvtChatUpdated, payload)
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(payload))
}

// Delete leaves a group or ends a direct conversation.
func (h *ChatHandler) Delete(c *gin.Context) {
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

	if err := h.service.LeaveOrDelete(c.Request.Context(), userID, chatID); err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.EmitToRoom(chatID, userID, server.EvtParticipantLeft, gin.H{
			"chatId": chatID,
			"userId": userID,
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"chatId": chatID}))
}

// OnlineUsers lists currently online members of a chat.
func (h *ChatHandler) OnlineUsers(c *gin.Context) {
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

	users, err := h.service.OnlineUsers(c.Request.Context(), userID, chatID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{
		"chatId":      chatID,
		"onlineUsers": users,
		"count":       len(users),
	}))
}

package server

import (
	"net/http"
	"strings"

	"careline-chat/internal/redis"
	"careline-chat/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler authenticates and upgrades incoming gateway
// connections.
type WebSocketHandler struct {
	hub         *Hub
	authService *services.AuthService
	limiter     *redis.RateLimiter
	logger      *WebSocketLogger
}

func NewWebSocketHandler(hub *Hub, authService *services.AuthService, limiter *redis.RateLimiter) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
		limiter:     limiter,
		logger:      NewWebSocketLogger(),
	}
}

// Handle upgrades HTTP to WebSocket. Auth failures get one non-specific
// rejection.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := h.extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	u, err := h.authService.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if h.limiter != nil {
		// Limiter outages fail open; reconnect storms are what this guards.
		if result, err := h.limiter.AllowConnect(c.Request.Context(), u.ID.String()); err == nil && !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade failed", u.ID, "", err)
		return
	}

	connectionID := uuid.New().String()
	client := NewClient(h.hub, conn, u.ID, u.Username, connectionID)
	h.hub.register <- client
}

func (h *WebSocketHandler) extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

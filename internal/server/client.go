package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/services"
	careline_errors "careline-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var newline = []byte{'\n'}

// ClientRateLimiter refills per-category token buckets once a minute.
type ClientRateLimiter struct {
	messageTokens  int
	typingTokens   int
	readTokens     int
	presenceTokens int
	lastRefill     time.Time
	mu             sync.Mutex
}

const (
	maxMessagesPerMinute = 120
	maxTypingPerMinute   = 60
	maxReadsPerMinute    = 120
	maxPresencePerMinute = 30
)

func NewClientRateLimiter() *ClientRateLimiter {
	return &ClientRateLimiter{
		messageTokens:  maxMessagesPerMinute,
		typingTokens:   maxTypingPerMinute,
		readTokens:     maxReadsPerMinute,
		presenceTokens: maxPresencePerMinute,
		lastRefill:     time.Now(),
	}
}

func (rl *ClientRateLimiter) Allow(event string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastRefill) >= time.Minute {
		rl.messageTokens = maxMessagesPerMinute
		rl.typingTokens = maxTypingPerMinute
		rl.readTokens = maxReadsPerMinute
		rl.presenceTokens = maxPresencePerMinute
		rl.lastRefill = time.Now()
	}

	switch event {
	case EvtSendMessage, EvtEditMessage, EvtDeleteMessage, EvtCreateChat:
		if rl.messageTokens > 0 {
			rl.messageTokens--
			return true
		}
	case EvtTypingStart, EvtTypingStop, EvtTypingIndicate:
		if rl.typingTokens > 0 {
			rl.typingTokens--
			return true
		}
	case EvtMarkAsRead:
		if rl.readTokens > 0 {
			rl.readTokens--
			return true
		}
	case EvtUserOnline, EvtUserOffline, EvtPresenceUpdate:
		if rl.presenceTokens > 0 {
			rl.presenceTokens--
			return true
		}
	default:
		return true
	}
	return false
}

// Client is one live WebSocket connection for one authenticated user.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	userID       uuid.UUID
	username     string
	connectionID string
	rooms        map[uuid.UUID]bool
	rateLimiter  *ClientRateLimiter

	// Per-chat typing auto-expiry timers. Owned by this connection and
	// cleared on disconnect so no stop broadcast fires for a dead socket.
	typingMu     sync.Mutex
	typingTimers map[uuid.UUID]*time.Timer

	// sendMu serializes enqueues against shutdown; once closed is set no
	// goroutine may touch the send channel again.
	sendMu sync.Mutex
	closed bool

	lastActivity time.Time
	logger       *WebSocketLogger
}

// deliver enqueues one encoded frame. Returns false if the connection is
// shutting down or the buffer is full.
func (c *Client) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound channel down exactly once. The hub may call
// this while the read loop is still dispatching; deliver keeps those late
// writes off the closed channel.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, username, connectionID string) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		userID:       userID,
		username:     username,
		connectionID: connectionID,
		rooms:        make(map[uuid.UUID]bool),
		rateLimiter:  NewClientRateLimiter(),
		typingTimers: make(map[uuid.UUID]*time.Timer),
		lastActivity: time.Now(),
		logger:       hub.logger,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity = time.Now()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected close", c.userID, c.connectionID, err)
			}
			break
		}
		c.lastActivity = time.Now()

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		c.dispatch(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame. A handler failure is reported back
// to this connection only; it never tears the connection down.
func (c *Client) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.emitError("malformed event")
		return
	}

	if !c.rateLimiter.Allow(env.Event) {
		c.logger.Warn("rate limit exceeded", c.userID, c.connectionID, zap.String("event", env.Event))
		c.emitError("rate limit exceeded")
		return
	}

	ctx := services.WithUserContext(context.Background(), c.userID)

	var err error
	switch env.Event {
	case EvtJoinChat:
		err = c.handleJoinChat(ctx, env.Payload)
	case EvtLeaveChat:
		err = c.handleLeaveChat(ctx, env.Payload)
	case EvtSendMessage:
		err = c.handleSendMessage(ctx, env.Payload)
	case EvtEditMessage:
		err = c.handleEditMessage(ctx, env.Payload)
	case EvtDeleteMessage:
		err = c.handleDeleteMessage(ctx, env.Payload)
	case EvtMarkAsRead:
		err = c.handleMarkAsRead(ctx, env.Payload)
	case EvtCreateChat:
		err = c.handleCreateChat(ctx, env.Payload)
	case EvtTypingStart:
		err = c.handleTyping(ctx, env.Payload, true)
	case EvtTypingStop:
		err = c.handleTyping(ctx, env.Payload, false)
	case EvtTypingIndicate:
		err = c.handleTypingIndicator(ctx, env.Payload)
	case EvtUserOnline:
		err = c.handlePresenceSignal(ctx, "online")
	case EvtUserOffline:
		err = c.handlePresenceSignal(ctx, "offline")
	case EvtPresenceUpdate:
		err = c.handlePresenceUpdate(ctx, env.Payload)
	case EvtGetOnlineUsers:
		err = c.handleGetOnlineUsers(ctx, env.Payload)
	default:
		c.logger.Warn("unknown event", c.userID, c.connectionID, zap.String("event", env.Event))
		c.emitError("unknown event")
		return
	}

	if err != nil {
		c.logger.Error("event handler failed", c.userID, c.connectionID, err, zap.String("event", env.Event))
		c.emitError(publicErrorMessage(err))
	}
}

func (c *Client) handleJoinChat(ctx context.Context, raw json.RawMessage) error {
	var p joinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	// Room joins are a delivery optimization; access is still enforced
	// on every operation.
	if _, err := c.hub.chatService.GetSession(ctx, c.userID, p.ChatID); err != nil {
		return err
	}
	c.hub.JoinRoom(c, p.ChatID)
	c.emit(EvtChatJoined, chatRoomPayload{ChatID: p.ChatID})
	c.hub.EmitToRoom(p.ChatID, c.userID, EvtUserJoinedChat, userChatPayload{
		UserID:   c.userID,
		Username: c.username,
		ChatID:   p.ChatID,
	})
	return nil
}

func (c *Client) handleLeaveChat(ctx context.Context, raw json.RawMessage) error {
	var p joinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	c.hub.LeaveRoom(c, p.ChatID)
	c.emit(EvtChatLeft, chatRoomPayload{ChatID: p.ChatID})
	c.hub.EmitToRoom(p.ChatID, c.userID, EvtUserLeftChat, userChatPayload{
		UserID:   c.userID,
		Username: c.username,
		ChatID:   p.ChatID,
	})
	return nil
}

func (c *Client) handleSendMessage(ctx context.Context, raw json.RawMessage) error {
	var p sendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}

	view, err := c.hub.messageService.Send(ctx, c.userID, p.ChatID, services.SendInput{
		Type:      p.Type,
		Content:   p.Content,
		MediaURL:  p.MediaURL,
		MediaType: p.MediaType,
		MediaSize: p.MediaSize,
		ReplyToID: p.ReplyToID,
	})
	if err != nil {
		return err
	}

	c.emit(EvtMessageSent, messageSentPayload{
		TempID:      p.TempID,
		MessageID:   view.ID,
		DeliveredAt: view.DeliveredAt,
	})
	c.hub.EmitToRoom(p.ChatID, uuid.Nil, EvtMessageReceived, view)
	return nil
}

func (c *Client) handleEditMessage(ctx context.Context, raw json.RawMessage) error {
	var p editMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	view, err := c.hub.messageService.Edit(ctx, c.userID, p.MessageID, p.NewContent)
	if err != nil {
		return err
	}
	c.hub.EmitToRoom(view.ChatID, uuid.Nil, EvtMessageEdited, messageEditedPayload{
		ID:       view.ID,
		ChatID:   view.ChatID,
		Content:  view.Content,
		IsEdited: view.IsEdited,
		EditedAt: view.EditedAt,
	})
	return nil
}

func (c *Client) handleDeleteMessage(ctx context.Context, raw json.RawMessage) error {
	var p deleteMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	chatID, err := c.hub.messageService.Delete(ctx, c.userID, p.MessageID)
	if err != nil {
		return err
	}
	c.hub.EmitToRoom(chatID, uuid.Nil, EvtMessageDeleted, messageDeletedPayload{
		MessageID: p.MessageID,
		ChatID:    chatID,
		DeletedBy: c.userID,
	})
	return nil
}

func (c *Client) handleMarkAsRead(ctx context.Context, raw json.RawMessage) error {
	var p markAsReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	readAt, err := c.hub.messageService.MarkRead(ctx, c.userID, p.ChatID, p.MessageIDs)
	if err != nil {
		return err
	}
	c.hub.EmitToRoom(p.ChatID, uuid.Nil, EvtMessagesRead, messagesReadPayload{
		ChatID:     p.ChatID,
		MessageIDs: p.MessageIDs,
		ReadBy:     c.userID,
		ReadAt:     readAt,
	})
	return nil
}

func (c *Client) handleCreateChat(ctx context.Context, raw json.RawMessage) error {
	var p createChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}

	var result services.CreateResult
	var err error
	switch p.Type {
	case chat.TypeDirect:
		if p.TargetUserID == nil {
			return careline_errors.ErrInvalidInput
		}
		result, err = c.hub.chatService.CreateDirect(ctx, c.userID, *p.TargetUserID)
	case chat.TypeGroup:
		result, err = c.hub.chatService.CreateGroup(ctx, c.userID, p.Name, p.Description)
	default:
		return careline_errors.ErrInvalidInput
	}
	if err != nil {
		return err
	}

	c.hub.JoinRoom(c, result.ChatID)
	c.emit(EvtChatCreated, result)
	if p.Type == chat.TypeDirect && p.TargetUserID != nil && !result.IsExisting {
		c.hub.EmitToUser(*p.TargetUserID, EvtChatCreated, result)
	}
	return nil
}

func (c *Client) handleTyping(ctx context.Context, raw json.RawMessage, typing bool) error {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	p.IsTyping = typing
	return c.applyTyping(ctx, p)
}

func (c *Client) handleTypingIndicator(ctx context.Context, raw json.RawMessage) error {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	return c.applyTyping(ctx, p)
}

// applyTyping broadcasts the typing state to the room minus the sender.
// A start arms (or re-arms) the auto-expiry timer; stop or expiry emits
// the stop broadcast.
func (c *Client) applyTyping(ctx context.Context, p typingPayload) error {
	if _, err := c.hub.chatService.GetSession(ctx, c.userID, p.ChatID); err != nil {
		return err
	}

	c.hub.presenceService.MirrorTyping(ctx, p.ChatID, c.userID, p.IsTyping, c.hub.typingExpiry)

	payload := userTypingPayload{
		UserID:   c.userID,
		Username: c.username,
		ChatID:   p.ChatID,
		IsTyping: p.IsTyping,
	}

	if p.IsTyping {
		c.armTypingTimer(p.ChatID)
		c.hub.EmitToRoom(p.ChatID, c.userID, EvtUserTyping, payload)
	} else {
		c.cancelTypingTimer(p.ChatID)
		payload.IsTyping = false
		c.hub.EmitToRoom(p.ChatID, c.userID, EvtUserStoppedTyping, payload)
	}
	return nil
}

func (c *Client) armTypingTimer(chatID uuid.UUID) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	if timer, ok := c.typingTimers[chatID]; ok {
		timer.Reset(c.hub.typingExpiry)
		return
	}
	c.typingTimers[chatID] = time.AfterFunc(c.hub.typingExpiry, func() {
		c.typingMu.Lock()
		delete(c.typingTimers, chatID)
		c.typingMu.Unlock()

		c.hub.presenceService.MirrorTyping(context.Background(), chatID, c.userID, false, c.hub.typingExpiry)
		c.hub.EmitToRoom(chatID, c.userID, EvtUserStoppedTyping, userTypingPayload{
			UserID:   c.userID,
			Username: c.username,
			ChatID:   chatID,
			IsTyping: false,
		})
	})
}

func (c *Client) cancelTypingTimer(chatID uuid.UUID) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if timer, ok := c.typingTimers[chatID]; ok {
		timer.Stop()
		delete(c.typingTimers, chatID)
	}
}

// cancelTypingTimers silences every armed timer. Called on disconnect so
// a vanished client cannot emit stop broadcasts afterwards.
func (c *Client) cancelTypingTimers() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for chatID, timer := range c.typingTimers {
		timer.Stop()
		delete(c.typingTimers, chatID)
	}
}

func (c *Client) handlePresenceSignal(ctx context.Context, status string) error {
	p, err := c.hub.presenceService.UpdateStatus(ctx, c.userID, status)
	if err != nil {
		return err
	}
	c.broadcastPresence(ctx, status, p.IsOnline, p.LastSeen)
	return nil
}

func (c *Client) handlePresenceUpdate(ctx context.Context, raw json.RawMessage) error {
	var p presenceUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	updated, err := c.hub.presenceService.UpdateStatus(ctx, c.userID, p.Status)
	if err != nil {
		return err
	}
	c.broadcastPresence(ctx, p.Status, updated.IsOnline, updated.LastSeen)
	return nil
}

func (c *Client) broadcastPresence(ctx context.Context, status string, isOnline bool, lastSeen time.Time) {
	payload := presenceChangedPayload{
		UserID:   c.userID,
		Username: c.username,
		IsOnline: isOnline,
		Status:   status,
		LastSeen: &lastSeen,
	}
	roomIDs, err := c.hub.chatService.SessionRoomIDs(ctx, c.userID)
	if err != nil {
		c.logger.Error("presence room lookup", c.userID, c.connectionID, err)
		return
	}
	for _, roomID := range roomIDs {
		c.hub.EmitToRoom(roomID, c.userID, EvtPresenceChanged, payload)
	}
}

func (c *Client) handleGetOnlineUsers(ctx context.Context, raw json.RawMessage) error {
	var p joinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	users, err := c.hub.chatService.OnlineUsers(ctx, c.userID, p.ChatID)
	if err != nil {
		return err
	}
	c.emit(EvtOnlineUsers, onlineUsersPayload{
		ChatID:      p.ChatID,
		OnlineUsers: users,
		Count:       len(users),
	})
	return nil
}

func (c *Client) emit(event string, payload interface{}) {
	data, err := newEnvelope(event, payload)
	if err != nil {
		c.logger.Error("encode event", c.userID, c.connectionID, err)
		return
	}
	if !c.deliver(data) {
		c.logger.Warn("dropping frame, client closing or buffer full", c.userID, c.connectionID)
	}
}

func (c *Client) emitError(message string) {
	c.emit(EvtError, errorPayload{Message: message})
}

// publicErrorMessage keeps internals out of the error event; only the
// typed domain errors cross the wire verbatim.
func publicErrorMessage(err error) string {
	switch {
	case errors.Is(err, careline_errors.ErrInvalidInput),
		errors.Is(err, careline_errors.ErrTooOldToEdit),
		errors.Is(err, careline_errors.ErrUnauthorized),
		errors.Is(err, careline_errors.ErrForbidden),
		errors.Is(err, careline_errors.ErrNotFound),
		errors.Is(err, careline_errors.ErrAlreadyExists),
		errors.Is(err, careline_errors.ErrConflict):
		return err.Error()
	default:
		return "internal error"
	}
}

package server

import (
	"context"
	"sync"
	"time"

	"careline-chat/internal/services"

	"github.com/google/uuid"
)

// Hub owns the connection registry and room membership. Rooms are
// in-process state rebuilt from persisted session membership at connect
// time; losing them on restart is safe.
type Hub struct {
	// userID -> connectionID -> client; a user is online while the inner
	// map is non-empty.
	clients map[uuid.UUID]map[string]*Client
	rooms   map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Broadcast

	chatService     *services.ChatService
	messageService  *services.MessageService
	presenceService *services.PresenceService

	typingExpiry time.Duration

	logger   *WebSocketLogger
	mu       sync.RWMutex
	stopChan chan struct{}
}

// Broadcast addresses an encoded event frame to a room, to specific
// users, or to both. ExcludeUserID suppresses echo to the originator.
type Broadcast struct {
	RoomID        *uuid.UUID
	UserIDs       []uuid.UUID
	ExcludeUserID uuid.UUID
	Data          []byte
}

func NewHub(
	chatService *services.ChatService,
	messageService *services.MessageService,
	presenceService *services.PresenceService,
	typingExpiry time.Duration,
) *Hub {
	if typingExpiry == 0 {
		typingExpiry = 3 * time.Second
	}
	return &Hub{
		clients:         make(map[uuid.UUID]map[string]*Client),
		rooms:           make(map[uuid.UUID]map[*Client]struct{}),
		register:        make(chan *Client, 256),
		unregister:      make(chan *Client, 256),
		broadcast:       make(chan *Broadcast, 256),
		chatService:     chatService,
		messageService:  messageService,
		presenceService: presenceService,
		typingExpiry:    typingExpiry,
		logger:          NewWebSocketLogger(),
		stopChan:        make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		case <-h.stopChan:
			return
		}
	}
}

// Stop closes every connection and shuts the hub down.
func (h *Hub) Stop() {
	close(h.stopChan)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userClients := range h.clients {
		for _, client := range userClients {
			h.removeClientLocked(client)
		}
	}
	h.clients = make(map[uuid.UUID]map[string]*Client)
	h.rooms = make(map[uuid.UUID]map[*Client]struct{})
}

func (h *Hub) handleRegister(client *Client) {
	ctx := context.Background()

	h.mu.Lock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[string]*Client)
	}

	const maxConnectionsPerUser = 10
	if len(h.clients[client.userID]) >= maxConnectionsPerUser {
		h.logger.Warn("max connections per user reached", client.userID, client.connectionID)
		for id, old := range h.clients[client.userID] {
			for roomID := range old.rooms {
				h.leaveRoomLocked(old, roomID)
			}
			h.removeClientLocked(old)
			delete(h.clients[client.userID], id)
			break
		}
	}

	firstConnection := len(h.clients[client.userID]) == 0
	h.clients[client.userID][client.connectionID] = client
	h.mu.Unlock()

	// Rebuild room membership from persisted sessions.
	roomIDs, err := h.chatService.SessionRoomIDs(ctx, client.userID)
	if err != nil {
		h.logger.Error("load session rooms", client.userID, client.connectionID, err)
	}
	h.mu.Lock()
	for _, id := range roomIDs {
		h.joinRoomLocked(client, id)
	}
	h.mu.Unlock()

	if firstConnection {
		if err := h.presenceService.SetOnline(ctx, client.userID, client.connectionID); err != nil {
			h.logger.Error("presence online", client.userID, client.connectionID, err)
		}
		h.notifyPresence(ctx, client, true, "online")
	} else {
		// Additional device; presence is already online, just track the socket.
		if err := h.presenceService.SetOnline(ctx, client.userID, client.connectionID); err != nil {
			h.logger.Error("presence refresh", client.userID, client.connectionID, err)
		}
	}

	h.logger.Info("client connected", client.userID, client.connectionID)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) handleUnregister(client *Client) {
	ctx := context.Background()

	client.cancelTypingTimers()

	h.mu.Lock()
	userClients, ok := h.clients[client.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := userClients[client.connectionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(userClients, client.connectionID)
	lastConnection := len(userClients) == 0
	if lastConnection {
		delete(h.clients, client.userID)
	}
	for roomID := range client.rooms {
		h.leaveRoomLocked(client, roomID)
	}
	h.removeClientLocked(client)
	h.mu.Unlock()

	// Online survives until the user's last socket is gone.
	if lastConnection {
		if err := h.presenceService.SetOffline(ctx, client.userID, client.connectionID); err != nil {
			h.logger.Error("presence offline", client.userID, client.connectionID, err)
		}
		h.notifyPresence(ctx, client, false, "offline")
	}

	h.logger.Info("client disconnected", client.userID, client.connectionID)
}

func (h *Hub) removeClientLocked(client *Client) {
	client.closeSend()
	client.conn.Close()
}

// JoinRoom attaches the client to a chat room.
func (h *Hub) JoinRoom(client *Client, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinRoomLocked(client, chatID)
}

// LeaveRoom detaches the client from a chat room.
func (h *Hub) LeaveRoom(client *Client, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(client, chatID)
}

func (h *Hub) joinRoomLocked(client *Client, chatID uuid.UUID) {
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[*Client]struct{})
	}
	h.rooms[chatID][client] = struct{}{}
	client.rooms[chatID] = true
}

func (h *Hub) leaveRoomLocked(client *Client, chatID uuid.UUID) {
	if room, ok := h.rooms[chatID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(client.rooms, chatID)
}

func (h *Hub) handleBroadcast(msg *Broadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.RoomID != nil {
		if room, ok := h.rooms[*msg.RoomID]; ok {
			for client := range room {
				if msg.ExcludeUserID != uuid.Nil && client.userID == msg.ExcludeUserID {
					continue
				}
				h.sendLocked(client, msg.Data)
			}
		}
	}
	for _, userID := range msg.UserIDs {
		if userClients, ok := h.clients[userID]; ok {
			for _, client := range userClients {
				h.sendLocked(client, msg.Data)
			}
		}
	}
}

func (h *Hub) sendLocked(client *Client, data []byte) {
	if !client.deliver(data) {
		h.logger.Warn("dropping frame, client closing or buffer full", client.userID, client.connectionID)
	}
}

// EmitToRoom encodes an event and fans it out to the chat's room.
// excludeUserID may be uuid.Nil.
func (h *Hub) EmitToRoom(chatID uuid.UUID, excludeUserID uuid.UUID, event string, payload interface{}) {
	data, err := newEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encode room event", excludeUserID, "", err)
		return
	}
	id := chatID
	h.enqueue(&Broadcast{RoomID: &id, ExcludeUserID: excludeUserID, Data: data})
}

// EmitToUser encodes an event and sends it to every connection the user
// has.
func (h *Hub) EmitToUser(userID uuid.UUID, event string, payload interface{}) {
	data, err := newEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encode user event", userID, "", err)
		return
	}
	h.enqueue(&Broadcast{UserIDs: []uuid.UUID{userID}, Data: data})
}

func (h *Hub) enqueue(msg *Broadcast) {
	select {
	case h.broadcast <- msg:
	case <-h.stopChan:
	}
}

// notifyPresence fans a presence transition out to every room the user
// belongs to. Fire and forget toward the rooms.
func (h *Hub) notifyPresence(ctx context.Context, client *Client, isOnline bool, status string) {
	now := time.Now()
	payload := presenceChangedPayload{
		UserID:   client.userID,
		Username: client.username,
		IsOnline: isOnline,
		Status:   status,
		LastSeen: &now,
	}

	event := EvtUserOffline
	if isOnline {
		event = EvtUserOnline
	}

	roomIDs, err := h.chatService.SessionRoomIDs(ctx, client.userID)
	if err != nil {
		h.logger.Error("presence room lookup", client.userID, client.connectionID, err)
		return
	}
	for _, roomID := range roomIDs {
		h.EmitToRoom(roomID, client.userID, EvtPresenceChanged, payload)
		h.EmitToRoom(roomID, client.userID, event, payload)
	}
}

package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Inbound event names. Fixed for client compatibility.
const (
	EvtJoinChat       = "join_chat"
	EvtLeaveChat      = "leave_chat"
	EvtSendMessage    = "send_message"
	EvtEditMessage    = "edit_message"
	EvtDeleteMessage  = "delete_message"
	EvtMarkAsRead     = "mark_as_read"
	EvtCreateChat     = "create_chat"
	EvtTypingStart    = "typing_start"
	EvtTypingStop     = "typing_stop"
	EvtTypingIndicate = "typing_indicator"
	EvtUserOnline     = "user_online"
	EvtUserOffline    = "user_offline"
	EvtPresenceUpdate = "presence_update"
	EvtGetOnlineUsers = "get_online_users"
)

// Outbound event names.
const (
	EvtChatJoined        = "chat_joined"
	EvtChatLeft          = "chat_left"
	EvtMessageSent       = "message_sent"
	EvtMessageReceived   = "message_received"
	EvtMessageEdited     = "message_edited"
	EvtMessageDeleted    = "message_deleted"
	EvtMessagesRead      = "messages_read"
	EvtChatCreated       = "chat_created"
	EvtChatUpdated       = "chat_updated"
	EvtParticipantLeft   = "participant_left"
	EvtUserJoinedChat    = "user_joined_chat"
	EvtUserLeftChat      = "user_left_chat"
	EvtUserTyping        = "user_typing"
	EvtUserStoppedTyping = "user_stopped_typing"
	EvtPresenceChanged   = "presence_changed"
	EvtOnlineUsers       = "online_users"
	EvtError             = "error"
)

// Envelope is the wire frame for both directions: an event name plus its
// payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// Inbound payloads.

type joinChatPayload struct {
	ChatID uuid.UUID `json:"chatId"`
}

type sendMessagePayload struct {
	ChatID    uuid.UUID  `json:"chatId"`
	Type      string     `json:"type"`
	Content   string     `json:"content,omitempty"`
	ReplyToID *uuid.UUID `json:"replyToId,omitempty"`
	MediaURL  string     `json:"mediaURL,omitempty"`
	MediaType string     `json:"mediaType,omitempty"`
	MediaSize int64      `json:"mediaSize,omitempty"`
	TempID    string     `json:"tempId,omitempty"`
}

type editMessagePayload struct {
	MessageID  uuid.UUID `json:"messageId"`
	NewContent string    `json:"newContent"`
}

type deleteMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type markAsReadPayload struct {
	ChatID     uuid.UUID   `json:"chatId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
}

type createChatPayload struct {
	Type         string     `json:"type"`
	TargetUserID *uuid.UUID `json:"targetUserId,omitempty"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
}

type typingPayload struct {
	ChatID   uuid.UUID `json:"chatId"`
	IsTyping bool      `json:"isTyping"`
}

type presenceUpdatePayload struct {
	Status string `json:"status"`
}

// Outbound payloads.

type chatRoomPayload struct {
	ChatID uuid.UUID `json:"chatId"`
}

type messageSentPayload struct {
	TempID      string     `json:"tempId,omitempty"`
	MessageID   uuid.UUID  `json:"messageId"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

type messageEditedPayload struct {
	ID       uuid.UUID  `json:"id"`
	ChatID   uuid.UUID  `json:"chatId"`
	Content  string     `json:"content"`
	IsEdited bool       `json:"isEdited"`
	EditedAt *time.Time `json:"editedAt,omitempty"`
}

type messageDeletedPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    uuid.UUID `json:"chatId"`
	DeletedBy uuid.UUID `json:"deletedBy"`
}

type messagesReadPayload struct {
	ChatID     uuid.UUID   `json:"chatId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
	ReadBy     uuid.UUID   `json:"readBy"`
	ReadAt     time.Time   `json:"readAt"`
}

type userChatPayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	ChatID   uuid.UUID `json:"chatId"`
}

type userTypingPayload struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	ChatID   uuid.UUID `json:"chatId"`
	IsTyping bool      `json:"isTyping"`
}

type presenceChangedPayload struct {
	UserID   uuid.UUID  `json:"userId"`
	Username string     `json:"username"`
	IsOnline bool       `json:"isOnline"`
	Status   string     `json:"status,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type onlineUsersPayload struct {
	ChatID      uuid.UUID   `json:"chatId"`
	OnlineUsers interface{} `json:"onlineUsers"`
	Count       int         `json:"count"`
}

type errorPayload struct {
	Message string `json:"message"`
}

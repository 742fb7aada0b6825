package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/domain/message"
	"careline-chat/internal/domain/presence"
	"careline-chat/internal/domain/user"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetActiveByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error)
}

// ChatFilter narrows ListUserSessions.
type ChatFilter struct {
	Page   int
	Limit  int
	Search string
}

type ChatRepository interface {
	Create(ctx context.Context, s *chat.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (chat.Session, error)
	Update(ctx context.Context, s chat.Session) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	TouchLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListUserSessions returns active sessions where userID is a fixed DIRECT
	// participant or an active GROUP participant, ordered by last activity
	// descending. Search matches group names; counterpart display matching is
	// layered on in the service.
	ListUserSessions(ctx context.Context, userID uuid.UUID, f ChatFilter) ([]chat.Session, int64, error)

	// GetDirectSession finds the session for an unordered user pair, active
	// or not.
	GetDirectSession(ctx context.Context, userID1, userID2 uuid.UUID) (chat.Session, error)

	// UserSessionIDs returns ids of every active session the user belongs to
	// (room-membership rebuild at connect time).
	UserSessionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	AddParticipant(ctx context.Context, p *chat.Participant) error
	GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (chat.Participant, error)
	GetActiveParticipants(ctx context.Context, chatID uuid.UUID) ([]chat.Participant, error)
	SetParticipantActive(ctx context.Context, chatID, userID uuid.UUID, active bool) error
	CountActiveParticipants(ctx context.Context, chatID uuid.UUID) (int64, error)
}

// MessageFilter narrows ListChatMessages. Before/After are exclusive
// timestamp cursors layered on top of offset pagination.
type MessageFilter struct {
	Page   int
	Limit  int
	Before *time.Time
	After  *time.Time
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	Update(ctx context.Context, m message.Message) error
	HardDelete(ctx context.Context, id uuid.UUID) error

	// ListChatMessages returns messages newest-first with reads preloaded.
	ListChatMessages(ctx context.Context, chatID uuid.UUID, f MessageFilter) ([]message.Message, int64, error)
	GetLatestMessage(ctx context.Context, chatID uuid.UUID) (message.Message, error)

	// MarkDelivered stamps deliveredAt on the given rows where unset.
	MarkDelivered(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// CountInChat counts how many of ids belong to chatID.
	CountInChat(ctx context.Context, chatID uuid.UUID, ids []uuid.UUID) (int64, error)

	// UpsertReads records reads idempotently, advancing readAt.
	UpsertReads(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error
	UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int64, error)

	Search(ctx context.Context, chatID uuid.UUID, query string, page, limit int) ([]message.Message, int64, error)
}

type PresenceRepository interface {
	// Upsert creates or updates the identity's presence row.
	Upsert(ctx context.Context, p presence.UserPresence) error
	Get(ctx context.Context, userID uuid.UUID) (presence.UserPresence, error)
	GetOnline(ctx context.Context, userIDs []uuid.UUID) ([]presence.UserPresence, error)
}

package chat

import (
	"bytes"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Session types
const (
	TypeDirect = "DIRECT"
	TypeGroup  = "GROUP"
)

// Participant roles
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Session represents the chat_sessions table.
//
// DIRECT sessions fix their two participants in User1ID/User2ID at creation
// and never mutate them; the pair is stored normalized (NormalizePair), so
// the unique index makes a direct session unique per unordered user pair.
// GROUP sessions keep their roster in Participant rows instead (both pair
// columns NULL, which the index ignores) and carry name/description/avatar
// metadata mutable by admins.
type Session struct {
	ID          uuid.UUID
	Type        string
	Name        sql.NullString
	Description sql.NullString
	AvatarURL   sql.NullString
	User1ID     uuid.NullUUID `gorm:"uniqueIndex:idx_chat_sessions_direct_pair"`
	User2ID     uuid.NullUUID `gorm:"uniqueIndex:idx_chat_sessions_direct_pair"`
	IsActive    bool
	// LastActivity is bumped on every new message and orders chat lists.
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Relationships
	Participants []Participant `gorm:"foreignKey:ChatID"`
}

// Participant represents the chat_participants table (GROUP sessions only).
// IsActive=false means the user has left; the row stays for history.
type Participant struct {
	ChatID   uuid.UUID `gorm:"primaryKey"`
	UserID   uuid.UUID `gorm:"primaryKey"`
	Role     string
	IsActive bool
	JoinedAt time.Time
}

func (Session) TableName() string {
	return "chat_sessions"
}

func (Participant) TableName() string {
	return "chat_participants"
}

// NormalizePair orders a direct pair so the smaller id always lands in
// User1ID. Every writer must store pairs this way; the unique index on
// (user1_id, user2_id) then rejects a second session for the same two users
// regardless of who initiated it.
func NormalizePair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// IsDirectParticipant reports whether userID is one of the two fixed
// participants of a DIRECT session.
func (s Session) IsDirectParticipant(userID uuid.UUID) bool {
	return (s.User1ID.Valid && s.User1ID.UUID == userID) ||
		(s.User2ID.Valid && s.User2ID.UUID == userID)
}

// CounterpartID returns the other side of a DIRECT session.
func (s Session) CounterpartID(userID uuid.UUID) (uuid.UUID, bool) {
	if !s.User1ID.Valid || !s.User2ID.Valid {
		return uuid.Nil, false
	}
	switch userID {
	case s.User1ID.UUID:
		return s.User2ID.UUID, true
	case s.User2ID.UUID:
		return s.User1ID.UUID, true
	}
	return uuid.Nil, false
}

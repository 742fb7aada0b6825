package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	TypeText  = "TEXT"
	TypeMedia = "MEDIA"
)

// Message represents the chat_messages table.
//
// A message is either text (Content set) or media (MediaURL set); creation
// rejects rows with neither. Media URLs are stored opaquely. DeliveredAt is
// set at creation (fire-and-forget fan-out) and backfilled by the fetch
// sweep for rows that predate that behavior.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	Type      string
	Content   sql.NullString
	MediaURL  sql.NullString
	MediaType sql.NullString
	MediaSize sql.NullInt64
	ReplyToID uuid.NullUUID
	IsEdited  bool
	EditedAt  sql.NullTime
	// DeliveredAt is set once; never cleared.
	DeliveredAt sql.NullTime
	CreatedAt   time.Time

	// Relationships
	ReadBy []Read `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// Read represents the message_reads table. One row per (message, user),
// upserted idempotently; ReadAt tracks the most recent mark-as-read call.
type Read struct {
	MessageID uuid.UUID `gorm:"primaryKey"`
	UserID    uuid.UUID `gorm:"primaryKey"`
	ReadAt    time.Time
}

func (Message) TableName() string {
	return "chat_messages"
}

func (Read) TableName() string {
	return "message_reads"
}

// HasBody reports whether the message carries text content or media.
func (m Message) HasBody() bool {
	return (m.Content.Valid && m.Content.String != "") || (m.MediaURL.Valid && m.MediaURL.String != "")
}

// EditableUntil returns the wall-clock deadline for edits.
func (m Message) EditableUntil(window time.Duration) time.Time {
	return m.CreatedAt.Add(window)
}

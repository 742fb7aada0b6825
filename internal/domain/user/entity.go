package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents the users table. Account management lives outside this
// service; the chat core only reads identity and display attributes.
type User struct {
	ID          uuid.UUID
	Username    string
	FullName    sql.NullString
	AvatarURL   sql.NullString
	Role        string // ADMIN, USER
	IsActive    bool
	IsAnonymous bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}

// PublicInfo is the display projection attached to messages, chat lists and
// presence events.
type PublicInfo struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName,omitempty"`
	AvatarURL string    `json:"avatarURL,omitempty"`
}

func (u User) Public() PublicInfo {
	info := PublicInfo{
		ID:       u.ID,
		Username: u.Username,
	}
	if u.FullName.Valid {
		info.FullName = u.FullName.String
	}
	if u.AvatarURL.Valid {
		info.AvatarURL = u.AvatarURL.String
	}
	return info
}

// DisplayName prefers the full name, falling back to the username.
func (u User) DisplayName() string {
	if u.FullName.Valid && u.FullName.String != "" {
		return u.FullName.String
	}
	return u.Username
}

package presence

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Statuses accepted by presence_update.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// UserPresence represents the user_presences table, one row per identity.
// ConnectionID holds an opaque handle to one live connection and is only
// set while IsOnline is true; the live connection count itself is tracked
// in process memory (and mirrored to Redis) so that multi-device users stay
// online until their last connection drops.
type UserPresence struct {
	UserID       uuid.UUID `gorm:"primaryKey"`
	IsOnline     bool
	LastSeen     time.Time
	ConnectionID sql.NullString
	UpdatedAt    time.Time
}

func (UserPresence) TableName() string {
	return "user_presences"
}

// IsOnlineStatus reports whether a presence_update status string counts as
// online. Away/busy keep the identity reachable but not "online".
func IsOnlineStatus(status string) bool {
	return status == StatusOnline
}

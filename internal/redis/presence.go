package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Status is the fast-path presence snapshot kept in Redis alongside the
// durable user_presences row.
type Status struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceMirror keeps a low-latency copy of presence, typing and
// connection state. Everything here is best effort; the database row is
// the source of truth.
type PresenceMirror struct {
	client *goredis.Client
	ttl    time.Duration
}

const (
	statusKeyPrefix      = "presence:"
	onlineSetKey         = "presence:online"
	typingKeyPrefix      = "typing:"
	connectionsKeyPrefix = "connections:"
)

func NewPresenceMirror(client *goredis.Client, ttl time.Duration) *PresenceMirror {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceMirror{client: client, ttl: ttl}
}

// SetStatus writes the user's presence snapshot and keeps the online set
// in sync. Offline snapshots are retained longer so last-seen queries
// survive the regular TTL.
func (m *PresenceMirror) SetStatus(ctx context.Context, userID, status string, at time.Time) error {
	online := status == "online"
	snap := Status{
		UserID:   userID,
		IsOnline: online,
		Status:   status,
		LastSeen: at,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	ttl := m.ttl
	if status == "offline" {
		ttl = 24 * time.Hour
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, statusKeyPrefix+userID, data, ttl)
	if status == "offline" {
		pipe.SRem(ctx, onlineSetKey, userID)
	} else {
		pipe.SAdd(ctx, onlineSetKey, userID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetStatus reads the user's snapshot; a missing key reads as offline.
func (m *PresenceMirror) GetStatus(ctx context.Context, userID string) (Status, error) {
	data, err := m.client.Get(ctx, statusKeyPrefix+userID).Result()
	if err == goredis.Nil {
		return Status{UserID: userID, Status: "offline"}, nil
	}
	if err != nil {
		return Status{}, err
	}
	var snap Status
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return Status{}, err
	}
	return snap, nil
}

// OnlineUsers lists every user id currently in the online set.
func (m *PresenceMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	return m.client.SMembers(ctx, onlineSetKey).Result()
}

// SetTyping adds or removes the user from the chat's typing set. The set
// as a whole expires so abandoned indicators cannot outlive their socket.
func (m *PresenceMirror) SetTyping(ctx context.Context, chatID, userID string, typing bool, expiry time.Duration) error {
	key := typingKeyPrefix + chatID
	if !typing {
		return m.client.SRem(ctx, key, userID).Err()
	}
	pipe := m.client.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, expiry)
	_, err := pipe.Exec(ctx)
	return err
}

// TypingUsers lists the users currently typing in a chat.
func (m *PresenceMirror) TypingUsers(ctx context.Context, chatID string) ([]string, error) {
	return m.client.SMembers(ctx, typingKeyPrefix+chatID).Result()
}

// AddConnection records one socket for the user and returns how many the
// user now has across devices.
func (m *PresenceMirror) AddConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	key := connectionsKeyPrefix + userID
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, connectionID, time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, m.ttl)
	count := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

// RemoveConnection drops one socket and reports how many remain.
func (m *PresenceMirror) RemoveConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	key := connectionsKeyPrefix + userID
	if err := m.client.HDel(ctx, key, connectionID).Err(); err != nil {
		return 0, err
	}
	return m.client.HLen(ctx, key).Result()
}

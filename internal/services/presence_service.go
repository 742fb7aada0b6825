package services

import (
	"context"
	"database/sql"
	"time"

	"careline-chat/internal/domain/presence"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"
	"careline-chat/pkg/logger"

	"github.com/google/uuid"
)

// PresenceMirror is the fast-path presence cache. All calls are best
// effort; failures are logged and the durable row still wins.
type PresenceMirror interface {
	SetStatus(ctx context.Context, userID, status string, at time.Time) error
	AddConnection(ctx context.Context, userID, connectionID string) (int64, error)
	RemoveConnection(ctx context.Context, userID, connectionID string) (int64, error)
	SetTyping(ctx context.Context, chatID, userID string, typing bool, expiry time.Duration) error
}

// PresenceService keeps user_presences rows in step with gateway
// connections and explicit status changes.
type PresenceService struct {
	presenceRepo repository.PresenceRepository
	mirror       PresenceMirror
	log          *logger.Logger
}

func NewPresenceService(presenceRepo repository.PresenceRepository, mirror PresenceMirror, log *logger.Logger) *PresenceService {
	return &PresenceService{presenceRepo: presenceRepo, mirror: mirror, log: log}
}

// SetOnline records the user as online under the given connection.
func (s *PresenceService) SetOnline(ctx context.Context, userID uuid.UUID, connectionID string) error {
	now := time.Now()
	p := presence.UserPresence{
		UserID:       userID,
		IsOnline:     true,
		LastSeen:     now,
		ConnectionID: sql.NullString{String: connectionID, Valid: connectionID != ""},
		UpdatedAt:    now,
	}
	if err := s.presenceRepo.Upsert(ctx, p); err != nil {
		return err
	}
	s.mirrorStatus(ctx, userID, presence.StatusOnline, now)
	if s.mirror != nil {
		if _, err := s.mirror.AddConnection(ctx, userID.String(), connectionID); err != nil {
			s.log.Warnf("presence mirror add connection: %v", err)
		}
	}
	return nil
}

// SetOffline records the user as offline. Called when the user's last
// connection drops.
func (s *PresenceService) SetOffline(ctx context.Context, userID uuid.UUID, connectionID string) error {
	now := time.Now()
	p := presence.UserPresence{
		UserID:    userID,
		IsOnline:  false,
		LastSeen:  now,
		UpdatedAt: now,
	}
	if err := s.presenceRepo.Upsert(ctx, p); err != nil {
		return err
	}
	s.mirrorStatus(ctx, userID, presence.StatusOffline, now)
	if s.mirror != nil && connectionID != "" {
		if _, err := s.mirror.RemoveConnection(ctx, userID.String(), connectionID); err != nil {
			s.log.Warnf("presence mirror remove connection: %v", err)
		}
	}
	return nil
}

// UpdateStatus applies an explicit status change. Only "online" counts as
// online; away and busy keep the row reachable but not online.
func (s *PresenceService) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) (presence.UserPresence, error) {
	switch status {
	case presence.StatusOnline, presence.StatusAway, presence.StatusBusy, presence.StatusOffline:
	default:
		return presence.UserPresence{}, careline_errors.ErrInvalidInput
	}

	now := time.Now()
	p := presence.UserPresence{
		UserID:    userID,
		IsOnline:  presence.IsOnlineStatus(status),
		LastSeen:  now,
		UpdatedAt: now,
	}
	if err := s.presenceRepo.Upsert(ctx, p); err != nil {
		return presence.UserPresence{}, err
	}
	s.mirrorStatus(ctx, userID, status, now)
	return p, nil
}

// Get returns the user's presence; unknown users read as offline.
func (s *PresenceService) Get(ctx context.Context, userID uuid.UUID) (presence.UserPresence, error) {
	return s.presenceRepo.Get(ctx, userID)
}

// MirrorTyping pushes a typing flag into the cache so other nodes can see
// it. In-process fan-out does not depend on it.
func (s *PresenceService) MirrorTyping(ctx context.Context, chatID, userID uuid.UUID, typing bool, expiry time.Duration) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SetTyping(ctx, chatID.String(), userID.String(), typing, expiry); err != nil {
		s.log.Warnf("presence mirror typing: %v", err)
	}
}

func (s *PresenceService) mirrorStatus(ctx context.Context, userID uuid.UUID, status string, at time.Time) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SetStatus(ctx, userID.String(), status, at); err != nil {
		s.log.Warnf("presence mirror status: %v", err)
	}
}

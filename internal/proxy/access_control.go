package proxy

import (
	"context"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"

	"github.com/google/uuid"
)

// AccessControl gates every session-scoped read or write. Room membership at
// the gateway is a fan-out optimization, not a security boundary, so each
// handler re-validates through here.
type AccessControl struct {
	chatRepo repository.ChatRepository
}

func NewAccessControl(chatRepo repository.ChatRepository) *AccessControl {
	return &AccessControl{chatRepo: chatRepo}
}

// CanAccess checks a loaded session without further queries. DIRECT: the
// identity must be one of the two fixed participants. GROUP: an active
// participant row must exist.
func (a *AccessControl) CanAccess(userID uuid.UUID, s chat.Session) bool {
	if !s.IsActive {
		return false
	}
	return a.IsMember(userID, s)
}

// IsMember applies the membership rule without the session-active gate.
// leaveOrDelete still has to recognize members of an already-ended session.
func (a *AccessControl) IsMember(userID uuid.UUID, s chat.Session) bool {
	switch s.Type {
	case chat.TypeDirect:
		return s.IsDirectParticipant(userID)
	case chat.TypeGroup:
		for _, p := range s.Participants {
			if p.UserID == userID && p.IsActive {
				return true
			}
		}
	}
	return false
}

// EnsureAccess loads the session and returns it when userID may act on it.
// Missing or inactive sessions surface as NotFound, lack of membership as
// Forbidden; no partial state is returned on failure.
func (a *AccessControl) EnsureAccess(ctx context.Context, userID, chatID uuid.UUID) (chat.Session, error) {
	s, err := a.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return chat.Session{}, err
	}
	if !s.IsActive {
		return chat.Session{}, careline_errors.ErrNotFound
	}
	if !a.CanAccess(userID, s) {
		return chat.Session{}, careline_errors.ErrForbidden
	}
	return s, nil
}

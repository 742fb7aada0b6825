package services

import (
	"context"

	"careline-chat/internal/domain/user"
	"careline-chat/internal/repository"

	"github.com/google/uuid"
)

// UserService exposes the read-only user directory used when starting
// chats.
type UserService struct {
	userRepo     repository.UserRepository
	presenceRepo repository.PresenceRepository
}

func NewUserService(userRepo repository.UserRepository, presenceRepo repository.PresenceRepository) *UserService {
	return &UserService{userRepo: userRepo, presenceRepo: presenceRepo}
}

// DirectoryEntry is a user plus their current presence.
type DirectoryEntry struct {
	user.PublicInfo
	IsOnline bool `json:"isOnline"`
}

// GetProfile returns one user's public projection with presence.
func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (DirectoryEntry, error) {
	u, err := s.userRepo.GetActiveByID(ctx, userID)
	if err != nil {
		return DirectoryEntry{}, err
	}
	entry := DirectoryEntry{PublicInfo: u.Public()}
	if pres, err := s.presenceRepo.Get(ctx, userID); err == nil {
		entry.IsOnline = pres.IsOnline
	}
	return entry, nil
}

// GetProfiles resolves a batch of user ids to public projections.
func (s *UserService) GetProfiles(ctx context.Context, ids []uuid.UUID) ([]DirectoryEntry, error) {
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	memberIDs := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		memberIDs = append(memberIDs, u.ID)
	}
	online := make(map[uuid.UUID]bool, len(memberIDs))
	if rows, err := s.presenceRepo.GetOnline(ctx, memberIDs); err == nil {
		for _, row := range rows {
			online[row.UserID] = true
		}
	}

	entries := make([]DirectoryEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, DirectoryEntry{PublicInfo: u.Public(), IsOnline: online[u.ID]})
	}
	return entries, nil
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"careline-chat/internal/domain/chat"
	"careline-chat/internal/domain/user"
	"careline-chat/internal/proxy"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatService manages chat session lifecycle: direct and group creation,
// listing with unread/preview annotations, group metadata updates, and
// leave/delete.
type ChatService struct {
	db           *gorm.DB
	chatRepo     repository.ChatRepository
	messageRepo  repository.MessageRepository
	userRepo     repository.UserRepository
	presenceRepo repository.PresenceRepository
	access       *proxy.AccessControl
}

func NewChatService(
	db *gorm.DB,
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	presenceRepo repository.PresenceRepository,
	access *proxy.AccessControl,
) *ChatService {
	return &ChatService{
		db:           db,
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		userRepo:     userRepo,
		presenceRepo: presenceRepo,
		access:       access,
	}
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	Total       int64 `json:"total"`
	HasNext     bool  `json:"hasNext"`
	HasPrev     bool  `json:"hasPrev"`
}

func paginate(page, limit int, total int64) Pagination {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		Total:       total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// SessionSummary is one row of a user's chat list.
type SessionSummary struct {
	ID               uuid.UUID         `json:"id"`
	Type             string            `json:"type"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	AvatarURL        string            `json:"avatarURL,omitempty"`
	LastActivity     time.Time         `json:"lastActivity"`
	UnreadCount      int64             `json:"unreadCount"`
	LastMessage      *MessagePreview   `json:"lastMessage,omitempty"`
	Participant      *user.PublicInfo  `json:"participant,omitempty"` // DIRECT counterpart
	IsOnline         bool              `json:"isOnline,omitempty"`
	LastSeen         *time.Time        `json:"lastSeen,omitempty"`
	Participants     []user.PublicInfo `json:"participants,omitempty"` // GROUP roster
	ParticipantCount int               `json:"participantCount,omitempty"`
}

type MessagePreview struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Sender    user.PublicInfo `json:"sender"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SessionDetail is the full getSession response.
type SessionDetail struct {
	ID           uuid.UUID           `json:"id"`
	Type         string              `json:"type"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastActivity time.Time           `json:"lastActivity"`
	Participant  *user.PublicInfo    `json:"participant,omitempty"`
	Name         string              `json:"name,omitempty"`
	Description  string              `json:"description,omitempty"`
	AvatarURL    string              `json:"avatarURL,omitempty"`
	Participants []ParticipantDetail `json:"participants,omitempty"`
}

type ParticipantDetail struct {
	user.PublicInfo
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// CreateResult reports chat creation; IsExisting flags the direct-chat
// find-or-return path.
type CreateResult struct {
	ChatID      uuid.UUID        `json:"chatId"`
	Type        string           `json:"type"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Participant *user.PublicInfo `json:"participant,omitempty"`
	IsExisting  bool             `json:"isExisting"`
}

// GroupUpdate carries the mutable group fields; nil means leave unchanged.
type GroupUpdate struct {
	Name        *string
	Description *string
	AvatarURL   *string
}

// ListSessions returns the user's active sessions ordered by last activity,
// annotated with unread counts and most-recent-message previews.
func (s *ChatService) ListSessions(ctx context.Context, userID uuid.UUID, f repository.ChatFilter) ([]SessionSummary, Pagination, error) {
	sessions, total, err := s.chatRepo.ListUserSessions(ctx, userID, f)
	if err != nil {
		return nil, Pagination{}, err
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summary := SessionSummary{
			ID:           sess.ID,
			Type:         sess.Type,
			LastActivity: sess.LastActivity,
		}

		unread, err := s.messageRepo.UnreadCount(ctx, sess.ID, userID)
		if err != nil {
			return nil, Pagination{}, err
		}
		summary.UnreadCount = unread

		if latest, err := s.messageRepo.GetLatestMessage(ctx, sess.ID); err == nil {
			preview := MessagePreview{
				ID:        latest.ID,
				Type:      latest.Type,
				CreatedAt: latest.CreatedAt,
			}
			if latest.Content.Valid {
				preview.Content = latest.Content.String
			}
			if sender, err := s.userRepo.GetByID(ctx, latest.SenderID); err == nil {
				preview.Sender = sender.Public()
			}
			summary.LastMessage = &preview
		}

		switch sess.Type {
		case chat.TypeDirect:
			counterpartID, ok := sess.CounterpartID(userID)
			if !ok {
				continue
			}
			counterpart, err := s.userRepo.GetByID(ctx, counterpartID)
			if err != nil {
				return nil, Pagination{}, err
			}
			info := counterpart.Public()
			summary.Name = counterpart.DisplayName()
			summary.AvatarURL = info.AvatarURL
			summary.Participant = &info

			if pres, err := s.presenceRepo.Get(ctx, counterpartID); err == nil {
				summary.IsOnline = pres.IsOnline
				if !pres.LastSeen.IsZero() {
					lastSeen := pres.LastSeen
					summary.LastSeen = &lastSeen
				}
			}
		case chat.TypeGroup:
			if sess.Name.Valid {
				summary.Name = sess.Name.String
			}
			if sess.Description.Valid {
				summary.Description = sess.Description.String
			}
			if sess.AvatarURL.Valid {
				summary.AvatarURL = sess.AvatarURL.String
			}
			roster, err := s.rosterInfo(ctx, sess.Participants)
			if err != nil {
				return nil, Pagination{}, err
			}
			summary.Participants = roster
			summary.ParticipantCount = len(roster)
		}

		summaries = append(summaries, summary)
	}

	return summaries, paginate(f.Page, f.Limit, total), nil
}

// GetSession loads a single session with its live participant list.
func (s *ChatService) GetSession(ctx context.Context, userID, chatID uuid.UUID) (SessionDetail, error) {
	sess, err := s.access.EnsureAccess(ctx, userID, chatID)
	if err != nil {
		return SessionDetail{}, err
	}

	detail := SessionDetail{
		ID:           sess.ID,
		Type:         sess.Type,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}

	if sess.Type == chat.TypeDirect {
		counterpartID, _ := sess.CounterpartID(userID)
		counterpart, err := s.userRepo.GetByID(ctx, counterpartID)
		if err != nil {
			return SessionDetail{}, err
		}
		info := counterpart.Public()
		detail.Participant = &info
		return detail, nil
	}

	if sess.Name.Valid {
		detail.Name = sess.Name.String
	}
	if sess.Description.Valid {
		detail.Description = sess.Description.String
	}
	if sess.AvatarURL.Valid {
		detail.AvatarURL = sess.AvatarURL.String
	}

	for _, p := range sess.Participants {
		if !p.IsActive {
			continue
		}
		u, err := s.userRepo.GetByID(ctx, p.UserID)
		if err != nil {
			return SessionDetail{}, err
		}
		detail.Participants = append(detail.Participants, ParticipantDetail{
			PublicInfo: u.Public(),
			Role:       p.Role,
			JoinedAt:   p.JoinedAt,
		})
	}

	return detail, nil
}

// CreateDirect finds or creates the DIRECT session for (userID, targetID).
// Any existing pairing, active or not, is treated as canonical and returned
// with IsExisting=true. Near-simultaneous creates for the same pair resolve
// by retrying the lookup on a unique-constraint conflict.
func (s *ChatService) CreateDirect(ctx context.Context, userID, targetID uuid.UUID) (CreateResult, error) {
	if targetID == uuid.Nil {
		return CreateResult{}, careline_errors.ErrInvalidInput
	}
	if targetID == userID {
		return CreateResult{}, careline_errors.ErrInvalidInput
	}

	target, err := s.userRepo.GetActiveByID(ctx, targetID)
	if err != nil {
		return CreateResult{}, careline_errors.ErrNotFound
	}

	if existing, err := s.chatRepo.GetDirectSession(ctx, userID, targetID); err == nil {
		info := target.Public()
		return CreateResult{ChatID: existing.ID, Type: chat.TypeDirect, Participant: &info, IsExisting: true}, nil
	}

	first, second := chat.NormalizePair(userID, targetID)
	now := time.Now()
	sess := chat.Session{
		ID:           uuid.New(),
		Type:         chat.TypeDirect,
		User1ID:      uuid.NullUUID{UUID: first, Valid: true},
		User2ID:      uuid.NullUUID{UUID: second, Valid: true},
		IsActive:     true,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.chatRepo.Create(ctx, &sess); err != nil {
		if errors.Is(err, careline_errors.ErrAlreadyExists) {
			// Lost the race; the committed row is canonical.
			if existing, lookupErr := s.chatRepo.GetDirectSession(ctx, userID, targetID); lookupErr == nil {
				info := target.Public()
				return CreateResult{ChatID: existing.ID, Type: chat.TypeDirect, Participant: &info, IsExisting: true}, nil
			}
		}
		return CreateResult{}, err
	}

	info := target.Public()
	return CreateResult{ChatID: sess.ID, Type: chat.TypeDirect, Participant: &info, IsExisting: false}, nil
}

// CreateGroup creates a GROUP session and the creator's ADMIN participant
// row as one unit.
func (s *ChatService) CreateGroup(ctx context.Context, userID uuid.UUID, name, description string) (CreateResult, error) {
	if strings.TrimSpace(name) == "" {
		return CreateResult{}, careline_errors.ErrInvalidInput
	}

	now := time.Now()
	sess := chat.Session{
		ID:           uuid.New(),
		Type:         chat.TypeGroup,
		Name:         sql.NullString{String: name, Valid: true},
		IsActive:     true,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if description != "" {
		sess.Description = sql.NullString{String: description, Valid: true}
	}
	admin := chat.Participant{
		ChatID:   sess.ID,
		UserID:   userID,
		Role:     chat.RoleAdmin,
		IsActive: true,
		JoinedAt: now,
	}

	create := func(chatRepo repository.ChatRepository) error {
		if err := chatRepo.Create(ctx, &sess); err != nil {
			return err
		}
		return chatRepo.AddParticipant(ctx, &admin)
	}

	var err error
	if s.db == nil {
		err = create(s.chatRepo)
	} else {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return create(repository.NewChatRepository(tx))
		})
	}
	if err != nil {
		return CreateResult{}, err
	}

	return CreateResult{
		ChatID:      sess.ID,
		Type:        chat.TypeGroup,
		Name:        name,
		Description: description,
		IsExisting:  false,
	}, nil
}

// UpdateGroup applies group metadata changes; GROUP-only, active-ADMIN-only.
func (s *ChatService) UpdateGroup(ctx context.Context, userID, chatID uuid.UUID, update GroupUpdate) (chat.Session, error) {
	sess, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return chat.Session{}, err
	}
	if !sess.IsActive {
		return chat.Session{}, careline_errors.ErrNotFound
	}
	if sess.Type != chat.TypeGroup {
		return chat.Session{}, careline_errors.ErrInvalidInput
	}

	participant, err := s.chatRepo.GetParticipant(ctx, chatID, userID)
	if err != nil || !participant.IsActive || participant.Role != chat.RoleAdmin {
		return chat.Session{}, careline_errors.ErrForbidden
	}

	if update.Name != nil && strings.TrimSpace(*update.Name) != "" {
		sess.Name = sql.NullString{String: *update.Name, Valid: true}
	}
	if update.Description != nil {
		sess.Description = sql.NullString{String: *update.Description, Valid: *update.Description != ""}
	}
	if update.AvatarURL != nil && *update.AvatarURL != "" {
		sess.AvatarURL = sql.NullString{String: *update.AvatarURL, Valid: true}
	}
	sess.UpdatedAt = time.Now()

	if err := s.chatRepo.Update(ctx, sess); err != nil {
		return chat.Session{}, err
	}
	return sess, nil
}

// LeaveOrDelete ends a DIRECT session for both sides, or deactivates the
// caller's GROUP participant row; a group emptied of active participants is
// itself marked inactive.
func (s *ChatService) LeaveOrDelete(ctx context.Context, userID, chatID uuid.UUID) error {
	sess, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !s.access.IsMember(userID, sess) {
		return careline_errors.ErrForbidden
	}

	if sess.Type == chat.TypeDirect {
		return s.chatRepo.SetActive(ctx, chatID, false)
	}

	leave := func(chatRepo repository.ChatRepository) error {
		if err := chatRepo.SetParticipantActive(ctx, chatID, userID, false); err != nil {
			return err
		}
		remaining, err := chatRepo.CountActiveParticipants(ctx, chatID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return chatRepo.SetActive(ctx, chatID, false)
		}
		return nil
	}

	if s.db == nil {
		return leave(s.chatRepo)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return leave(repository.NewChatRepository(tx))
	})
}

// SessionRoomIDs lists every active session the user belongs to; the
// gateway rebuilds room membership from it at connect time.
func (s *ChatService) SessionRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.chatRepo.UserSessionIDs(ctx, userID)
}

// OnlineUsers returns the currently online participants of a chat.
func (s *ChatService) OnlineUsers(ctx context.Context, userID, chatID uuid.UUID) ([]user.PublicInfo, error) {
	sess, err := s.access.EnsureAccess(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	var memberIDs []uuid.UUID
	if sess.Type == chat.TypeDirect {
		if sess.User1ID.Valid {
			memberIDs = append(memberIDs, sess.User1ID.UUID)
		}
		if sess.User2ID.Valid {
			memberIDs = append(memberIDs, sess.User2ID.UUID)
		}
	} else {
		for _, p := range sess.Participants {
			if p.IsActive {
				memberIDs = append(memberIDs, p.UserID)
			}
		}
	}

	online, err := s.presenceRepo.GetOnline(ctx, memberIDs)
	if err != nil {
		return nil, err
	}

	infos := make([]user.PublicInfo, 0, len(online))
	for _, pres := range online {
		u, err := s.userRepo.GetByID(ctx, pres.UserID)
		if err != nil {
			continue
		}
		infos = append(infos, u.Public())
	}
	return infos, nil
}

func (s *ChatService) rosterInfo(ctx context.Context, participants []chat.Participant) ([]user.PublicInfo, error) {
	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		if p.IsActive {
			ids = append(ids, p.UserID)
		}
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	infos := make([]user.PublicInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, u.Public())
	}
	return infos, nil
}

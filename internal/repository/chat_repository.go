package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"careline-chat/internal/domain/chat"
	careline_errors "careline-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &PostgresChatRepository{db: db}
}

func (r *PostgresChatRepository) Create(ctx context.Context, s *chat.Session) error {
	res := r.db.WithContext(ctx).Create(s)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return careline_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresChatRepository) GetByID(ctx context.Context, id uuid.UUID) (chat.Session, error) {
	var s chat.Session
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Session{}, careline_errors.ErrNotFound
		}
		return chat.Session{}, err
	}
	return s, nil
}

func (r *PostgresChatRepository) Update(ctx context.Context, s chat.Session) error {
	res := r.db.WithContext(ctx).Omit("Participants").Save(&s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return careline_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresChatRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return careline_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresChatRepository) TouchLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", id).
		Update("last_activity", at).Error
}

func (r *PostgresChatRepository) ListUserSessions(ctx context.Context, userID uuid.UUID, f ChatFilter) ([]chat.Session, int64, error) {
	var sessions []chat.Session
	var total int64

	memberSub := r.db.Model(&chat.Participant{}).
		Select("chat_id").
		Where("user_id = ? AND is_active = ?", userID, true)

	q := r.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("is_active = ?", true).
		Where("user1_id = ? OR user2_id = ? OR id IN (?)", userID, userID, memberSub)

	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		// Group names match directly; direct chats match on the counterpart's
		// username or full name.
		q = q.Where(
			"LOWER(name) LIKE ? OR EXISTS (SELECT 1 FROM users u WHERE (u.id = chat_sessions.user1_id OR u.id = chat_sessions.user2_id) AND u.id <> ? AND (LOWER(u.username) LIKE ? OR LOWER(u.full_name) LIKE ?))",
			pattern, userID, pattern, pattern,
		)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	if err := q.
		Preload("Participants", "is_active = ?", true).
		Order("last_activity DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

func (r *PostgresChatRepository) GetDirectSession(ctx context.Context, userID1, userID2 uuid.UUID) (chat.Session, error) {
	var s chat.Session
	err := r.db.WithContext(ctx).
		Where("type = ?", chat.TypeDirect).
		Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)",
			userID1, userID2, userID2, userID1).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Session{}, careline_errors.ErrNotFound
		}
		return chat.Session{}, err
	}
	return s, nil
}

func (r *PostgresChatRepository) UserSessionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	memberSub := r.db.Model(&chat.Participant{}).
		Select("chat_id").
		Where("user_id = ? AND is_active = ?", userID, true)

	err := r.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("is_active = ?", true).
		Where("user1_id = ? OR user2_id = ? OR id IN (?)", userID, userID, memberSub).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresChatRepository) AddParticipant(ctx context.Context, p *chat.Participant) error {
	res := r.db.WithContext(ctx).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return careline_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresChatRepository) GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (chat.Participant, error) {
	var p chat.Participant
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Participant{}, careline_errors.ErrNotFound
		}
		return chat.Participant{}, err
	}
	return p, nil
}

func (r *PostgresChatRepository) GetActiveParticipants(ctx context.Context, chatID uuid.UUID) ([]chat.Participant, error) {
	var participants []chat.Participant
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *PostgresChatRepository) SetParticipantActive(ctx context.Context, chatID, userID uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&chat.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return careline_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresChatRepository) CountActiveParticipants(ctx context.Context, chatID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&chat.Participant{}).
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

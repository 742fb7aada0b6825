package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"careline-chat/internal/domain/message"
	careline_errors "careline-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return careline_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Preload("ReadBy").
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, careline_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) Update(ctx context.Context, m message.Message) error {
	res := r.db.WithContext(ctx).Omit("ReadBy").Save(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return careline_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	// Read receipts go with the message row.
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&message.Read{}, "message_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&message.Message{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return careline_errors.ErrNotFound
		}
		return nil
	})
}

func (r *PostgresMessageRepository) ListChatMessages(ctx context.Context, chatID uuid.UUID, f MessageFilter) ([]message.Message, int64, error) {
	var messages []message.Message
	var total int64

	q := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("chat_id = ?", chatID)

	if f.Before != nil {
		q = q.Where("created_at < ?", *f.Before)
	}
	if f.After != nil {
		q = q.Where("created_at > ?", *f.After)
	}

	// Cursor filters apply to the count too, or the pagination envelope
	// overstates the page span.
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	if err := q.
		Preload("ReadBy").
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (r *PostgresMessageRepository) GetLatestMessage(ctx context.Context, chatID uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, careline_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) MarkDelivered(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id IN ? AND delivered_at IS NULL", ids).
		Update("delivered_at", at).Error
}

func (r *PostgresMessageRepository) CountInChat(ctx context.Context, chatID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("chat_id = ? AND id IN ?", chatID, ids).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresMessageRepository) UpsertReads(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	reads := make([]message.Read, 0, len(ids))
	for _, id := range ids {
		reads = append(reads, message.Read{
			MessageID: id,
			UserID:    userID,
			ReadAt:    at,
		})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"read_at"}),
		}).
		Create(&reads).Error
}

func (r *PostgresMessageRepository) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int64, error) {
	var count int64
	readSub := r.db.Model(&message.Read{}).
		Select("message_id").
		Where("user_id = ?", userID)

	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("chat_id = ? AND sender_id <> ?", chatID, userID).
		Where("id NOT IN (?)", readSub).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresMessageRepository) Search(ctx context.Context, chatID uuid.UUID, query string, page, limit int) ([]message.Message, int64, error) {
	var messages []message.Message
	var total int64

	q := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("chat_id = ? AND LOWER(content) LIKE ?", chatID, "%"+strings.ToLower(query)+"%")

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	if err := q.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

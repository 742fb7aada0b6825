package repository

import (
	"context"
	"errors"

	"careline-chat/internal/domain/presence"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresPresenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) PresenceRepository {
	return &PostgresPresenceRepository{db: db}
}

func (r *PostgresPresenceRepository) Upsert(ctx context.Context, p presence.UserPresence) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_seen", "connection_id", "updated_at"}),
		}).
		Create(&p).Error
}

func (r *PostgresPresenceRepository) Get(ctx context.Context, userID uuid.UUID) (presence.UserPresence, error) {
	var p presence.UserPresence
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Absent row reads as offline.
			return presence.UserPresence{UserID: userID, IsOnline: false}, nil
		}
		return presence.UserPresence{}, err
	}
	return p, nil
}

func (r *PostgresPresenceRepository) GetOnline(ctx context.Context, userIDs []uuid.UUID) ([]presence.UserPresence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var rows []presence.UserPresence
	err := r.db.WithContext(ctx).
		Where("user_id IN ? AND is_online = ?", userIDs, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

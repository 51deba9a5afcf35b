package repository

import (
	"context"
	"time"

	"go-relay/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new instance of SessionRepository
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// SaveMetadata upserts the trigger record. A re-trigger of the same session
// replaces the payload.
func (r *sessionRepository) SaveMetadata(ctx context.Context, meta *domain.SessionMetadata) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at", "ttl"}),
		}).
		Create(meta).Error
	return classify("save session metadata", err)
}

func (r *sessionRepository) GetMetadata(ctx context.Context, sessionID string) (*domain.SessionMetadata, error) {
	var meta domain.SessionMetadata
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&meta).Error
	if err != nil {
		return nil, classify("get session metadata", err)
	}
	return &meta, nil
}

func (r *sessionRepository) WriteData(ctx context.Context, data *domain.SessionData) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "data_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "created_at", "ttl"}),
		}).
		Create(data).Error
	return classify("write session data", err)
}

func (r *sessionRepository) ReadData(ctx context.Context, sessionID, key string) (*domain.SessionData, error) {
	var data domain.SessionData
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND data_key = ?", sessionID, key).
		Take(&data).Error
	if err != nil {
		return nil, classify("read session data", err)
	}
	return &data, nil
}

func (r *sessionRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("ttl > 0 AND ttl <= ?", now.Unix()).Delete(&domain.SessionMetadata{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("ttl > 0 AND ttl <= ?", now.Unix()).Delete(&domain.SessionData{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, classify("purge expired session records", err)
	}
	return removed, nil
}

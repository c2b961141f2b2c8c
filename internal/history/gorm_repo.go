package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

// GormRepository implements Repository on any GORM dialect.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Append(ctx context.Context, msg domain.Message, expiresAt time.Time) error {
	model := MessageToModel(msg, expiresAt)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to append message: %w", result.Error)
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context, conversation string, limit int, now time.Time) ([]domain.Message, error) {
	var models []MessageModel
	result := r.db.WithContext(ctx).
		Where("conversation = ? AND expires_at > ?", conversation, now.UTC()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %w", result.Error)
	}

	msgs := make([]domain.Message, 0, len(models))
	for i := range models {
		msgs = append(msgs, models[i].ToDomain())
	}
	reverse(msgs)
	return msgs, nil
}

func (r *GormRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&MessageModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (r *GormRepository) Close() error {
	return nil
}

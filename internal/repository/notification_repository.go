package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Leganyst/bookingbot/internal/model"
)

type NotificationRepository interface {
	CreateBatch(ctx context.Context, items []model.Notification) error
	ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id uint, at time.Time) error
}

type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) CreateBatch(ctx context.Context, items []model.Notification) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *GormNotificationRepository) ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]model.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var items []model.Notification
	if err := q.Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// MarkRead отмечает уведомление прочитанным. Чужое уведомление — ErrNotFound.
func (r *GormNotificationRepository) MarkRead(ctx context.Context, userID, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

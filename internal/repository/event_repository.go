package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Leganyst/bookingbot/internal/model"
)

type EventRepository interface {
	Append(ctx context.Context, ev *model.Event) error
	// События организации после since, по возрастанию времени.
	ListSince(ctx context.Context, organizationID uint, since time.Time, limit int) ([]model.Event, error)
}

type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

func (r *GormEventRepository) Append(ctx context.Context, ev *model.Event) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *GormEventRepository) ListSince(ctx context.Context, organizationID uint, since time.Time, limit int) ([]model.Event, error) {
	q := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Where("timestamp > ?", since).
		Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var events []model.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

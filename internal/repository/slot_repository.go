package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Leganyst/bookingbot/internal/model"
)

type SlotRepository interface {
	// Вставить пачку слотов.
	CreateBatch(ctx context.Context, slots []model.Slot) error
	// Самый поздний слот услуги; ErrNotFound, если слотов нет.
	FindLatest(ctx context.Context, serviceID uint) (*model.Slot, error)
	// Слот вместе с услугой.
	GetWithService(ctx context.Context, id uint) (*model.Slot, error)
	// Слоты услуги с началом в [from, to).
	ListByServiceRange(ctx context.Context, serviceID uint, from, to time.Time) ([]model.Slot, error)
	// Только времена начала, для проверки уже сгенерированных дней.
	StartTimesByServiceRange(ctx context.Context, serviceID uint, from, to time.Time) ([]time.Time, error)
	DeleteByService(ctx context.Context, serviceID uint) (int64, error)
	DeleteByOrganization(ctx context.Context, organizationID uint) (int64, error)
}

type GormSlotRepository struct {
	db *gorm.DB
}

func NewGormSlotRepository(db *gorm.DB) *GormSlotRepository {
	return &GormSlotRepository{db: db}
}

func (r *GormSlotRepository) CreateBatch(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(slots, 200).Error
}

func (r *GormSlotRepository) FindLatest(ctx context.Context, serviceID uint) (*model.Slot, error) {
	var slot model.Slot
	err := r.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("start_at DESC").
		First(&slot).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &slot, nil
}

func (r *GormSlotRepository) GetWithService(ctx context.Context, id uint) (*model.Slot, error) {
	var slot model.Slot
	if err := r.db.WithContext(ctx).Preload("Service").First(&slot, id).Error; err != nil {
		return nil, mapErr(err)
	}
	if slot.Service == nil {
		return nil, ErrNotFound
	}
	return &slot, nil
}

func (r *GormSlotRepository) ListByServiceRange(ctx context.Context, serviceID uint, from, to time.Time) ([]model.Slot, error) {
	var slots []model.Slot
	err := r.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Where("start_at >= ? AND start_at < ?", from, to).
		Order("start_at ASC").
		Find(&slots).Error
	return slots, err
}

func (r *GormSlotRepository) StartTimesByServiceRange(ctx context.Context, serviceID uint, from, to time.Time) ([]time.Time, error) {
	var starts []time.Time
	err := r.db.WithContext(ctx).
		Model(&model.Slot{}).
		Where("service_id = ?", serviceID).
		Where("start_at >= ? AND start_at < ?", from, to).
		Order("start_at ASC").
		Pluck("start_at", &starts).Error
	return starts, err
}

func (r *GormSlotRepository) DeleteByService(ctx context.Context, serviceID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("service_id = ?", serviceID).Delete(&model.Slot{})
	return res.RowsAffected, res.Error
}

func (r *GormSlotRepository) DeleteByOrganization(ctx context.Context, organizationID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("organization_id = ?", organizationID).Delete(&model.Slot{})
	return res.RowsAffected, res.Error
}

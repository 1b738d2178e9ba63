package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Leganyst/bookingbot/internal/model"
)

// ServiceRepository — каталог услуг организации.
type ServiceRepository interface {
	GetByID(ctx context.Context, id uint) (*model.Service, error)
	// ListActive отдаёт услуги, доступные для записи, по имени.
	ListActive(ctx context.Context, organizationID uint) ([]model.Service, error)
	Create(ctx context.Context, service *model.Service) error
	// Update пишет только редактируемые поля; организация и id не меняются.
	Update(ctx context.Context, service *model.Service) error
	Delete(ctx context.Context, id uint) error
}

type GormServiceRepository struct {
	db *gorm.DB
}

func NewGormServiceRepository(db *gorm.DB) *GormServiceRepository {
	return &GormServiceRepository{db: db}
}

func (r *GormServiceRepository) GetByID(ctx context.Context, id uint) (*model.Service, error) {
	var svc model.Service
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&svc).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &svc, nil
}

func (r *GormServiceRepository) ListActive(ctx context.Context, organizationID uint) ([]model.Service, error) {
	var out []model.Service
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", organizationID, true).
		Order("name ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *GormServiceRepository) Create(ctx context.Context, service *model.Service) error {
	return r.db.WithContext(ctx).Create(service).Error
}

func (r *GormServiceRepository) Update(ctx context.Context, service *model.Service) error {
	res := r.db.WithContext(ctx).
		Model(service).
		Select("Name", "Description", "DurationMin", "PriceMinor", "Currency", "IsActive").
		Updates(service)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormServiceRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Service{})
	switch {
	case res.Error != nil:
		return res.Error
	case res.RowsAffected == 0:
		return ErrNotFound
	}
	return nil
}

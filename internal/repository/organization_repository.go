package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/bookingbot/internal/model"
)

type OrganizationRepository interface {
	GetByID(ctx context.Context, id uint) (*model.Organization, error)
	// Найти организацию, к которой привязан токен.
	GetByCredential(ctx context.Context, token string) (*model.Organization, error)
	// Все организации с подключённым ботом.
	ListWithCredential(ctx context.Context) ([]model.Organization, error)
	SetCredential(ctx context.Context, id uint, token, username string) error
	ClearCredential(ctx context.Context, id uint) error
	// Блокировка строки организации до конца транзакции (только postgres).
	LockForUpdate(ctx context.Context, id uint) (*model.Organization, error)
	Create(ctx context.Context, org *model.Organization) error
}

type GormOrganizationRepository struct {
	db *gorm.DB
}

func NewGormOrganizationRepository(db *gorm.DB) *GormOrganizationRepository {
	return &GormOrganizationRepository{db: db}
}

func (r *GormOrganizationRepository) GetByID(ctx context.Context, id uint) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).First(&org, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &org, nil
}

func (r *GormOrganizationRepository) GetByCredential(ctx context.Context, token string) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).Where("bot_token = ?", token).First(&org).Error; err != nil {
		return nil, mapErr(err)
	}
	return &org, nil
}

func (r *GormOrganizationRepository) ListWithCredential(ctx context.Context) ([]model.Organization, error) {
	var orgs []model.Organization
	err := r.db.WithContext(ctx).
		Where("bot_token IS NOT NULL AND bot_token <> ''").
		Order("id ASC").
		Find(&orgs).Error
	return orgs, err
}

func (r *GormOrganizationRepository) SetCredential(ctx context.Context, id uint, token, username string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Organization{}).
		Where("id = ?", id).
		Updates(map[string]any{"bot_token": token, "bot_username": username})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormOrganizationRepository) ClearCredential(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Organization{}).
		Where("id = ?", id).
		Updates(map[string]any{"bot_token": nil, "bot_username": ""}).
		Error
}

func (r *GormOrganizationRepository) LockForUpdate(ctx context.Context, id uint) (*model.Organization, error) {
	q := r.db.WithContext(ctx)
	// sqlite не знает FOR UPDATE, там транзакции и так идут по одной
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var org model.Organization
	if err := q.First(&org, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &org, nil
}

func (r *GormOrganizationRepository) Create(ctx context.Context, org *model.Organization) error {
	return r.db.WithContext(ctx).Create(org).Error
}

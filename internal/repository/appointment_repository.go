package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Leganyst/bookingbot/internal/calendar"
	"github.com/Leganyst/bookingbot/internal/model"
)

// ActiveStatuses — статусы, занимающие время.
var ActiveStatuses = []model.AppointmentStatus{
	model.AppointmentStatusPending,
	model.AppointmentStatusConfirmed,
}

type AppointmentRepository interface {
	// Неотменённые записи организации, чьё окно заканчивается после endAfter.
	FindActiveWindows(ctx context.Context, organizationID uint, endAfter time.Time) ([]calendar.EffectiveWindow, error)
	Create(ctx context.Context, appt *model.Appointment) error
	GetByID(ctx context.Context, id uint) (*model.Appointment, error)
	// Перевести запись из любого статуса from в to. false, если запись
	// была не в from (уже переведена кем-то другим).
	UpdateStatus(ctx context.Context, id uint, from []model.AppointmentStatus, to model.AppointmentStatus, at time.Time, reason string) (bool, error)
	// Предстоящие неотменённые записи чата.
	ListByChat(ctx context.Context, organizationID uint, chatID int64, from time.Time) ([]model.Appointment, error)
	// Записи организации с пагинацией, новые сверху.
	ListByOrganization(ctx context.Context, organizationID uint, limit, offset int) ([]model.Appointment, int64, error)
	CountActiveFutureByService(ctx context.Context, serviceID uint, now time.Time) (int64, error)
	CountActiveByOrganization(ctx context.Context, organizationID uint) (int64, error)
	DeleteByService(ctx context.Context, serviceID uint) (int64, error)
}

type GormAppointmentRepository struct {
	db *gorm.DB
}

func NewGormAppointmentRepository(db *gorm.DB) *GormAppointmentRepository {
	return &GormAppointmentRepository{db: db}
}

func (r *GormAppointmentRepository) FindActiveWindows(ctx context.Context, organizationID uint, endAfter time.Time) ([]calendar.EffectiveWindow, error) {
	var rows []model.Appointment
	q := r.db.WithContext(ctx).
		Select("id", "slot_id", "start_at", "end_at").
		Where("organization_id = ?", organizationID).
		Where("status IN ?", ActiveStatuses)
	if !endAfter.IsZero() {
		q = q.Where("end_at > ?", endAfter)
	}
	if err := q.Order("start_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	windows := make([]calendar.EffectiveWindow, 0, len(rows))
	for _, a := range rows {
		windows = append(windows, calendar.EffectiveWindow{
			AppointmentID: a.ID,
			SlotID:        a.SlotID,
			Range:         calendar.TimeRange{Start: a.StartAt, End: a.EndAt},
		})
	}
	return windows, nil
}

func (r *GormAppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	return r.db.WithContext(ctx).Create(appt).Error
}

func (r *GormAppointmentRepository) GetByID(ctx context.Context, id uint) (*model.Appointment, error) {
	var a model.Appointment
	if err := r.db.WithContext(ctx).Preload("Service").First(&a, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *GormAppointmentRepository) UpdateStatus(
	ctx context.Context,
	id uint,
	from []model.AppointmentStatus,
	to model.AppointmentStatus,
	at time.Time,
	reason string,
) (bool, error) {
	update := map[string]any{
		"status": to,
	}
	if to == model.AppointmentStatusCancelled {
		update["cancelled_at"] = at
		update["cancel_reason"] = reason
	}
	res := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormAppointmentRepository) ListByChat(ctx context.Context, organizationID uint, chatID int64, from time.Time) ([]model.Appointment, error) {
	var appts []model.Appointment
	err := r.db.WithContext(ctx).
		Preload("Service").
		Where("organization_id = ? AND chat_id = ?", organizationID, chatID).
		Where("status IN ?", ActiveStatuses).
		Where("start_at >= ?", from).
		Order("start_at ASC").
		Find(&appts).Error
	return appts, err
}

func (r *GormAppointmentRepository) ListByOrganization(
	ctx context.Context,
	organizationID uint,
	limit, offset int,
) ([]model.Appointment, int64, error) {
	var (
		appts []model.Appointment
		total int64
	)

	q := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("organization_id = ?", organizationID)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}

	if err := q.Preload("Service").Order("start_at DESC").Find(&appts).Error; err != nil {
		return nil, 0, err
	}

	return appts, total, nil
}

func (r *GormAppointmentRepository) CountActiveFutureByService(ctx context.Context, serviceID uint, now time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("service_id = ?", serviceID).
		Where("status IN ?", ActiveStatuses).
		Where("end_at > ?", now).
		Count(&n).Error
	return n, err
}

func (r *GormAppointmentRepository) CountActiveByOrganization(ctx context.Context, organizationID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Appointment{}).
		Where("organization_id = ?", organizationID).
		Where("status IN ?", ActiveStatuses).
		Count(&n).Error
	return n, err
}

func (r *GormAppointmentRepository) DeleteByService(ctx context.Context, serviceID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("service_id = ?", serviceID).Delete(&model.Appointment{})
	return res.RowsAffected, res.Error
}

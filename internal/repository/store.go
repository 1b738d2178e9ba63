package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// mapErr переводит gorm.ErrRecordNotFound в ErrNotFound, остальное как есть.
func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Store собирает все репозитории над одним *gorm.DB (или транзакцией).
type Store struct {
	db *gorm.DB

	Organizations OrganizationRepository
	Services      ServiceRepository
	Slots         SlotRepository
	Appointments  AppointmentRepository
	Events        EventRepository
	Notifications NotificationRepository
	Users         UserRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Organizations: NewGormOrganizationRepository(db),
		Services:      NewGormServiceRepository(db),
		Slots:         NewGormSlotRepository(db),
		Appointments:  NewGormAppointmentRepository(db),
		Events:        NewGormEventRepository(db),
		Notifications: NewGormNotificationRepository(db),
		Users:         NewGormUserRepository(db),
	}
}

// DB возвращает исходный хэндл.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction выполняет fn в одной транзакции; Store внутри fn привязан к tx.
// Внутри fn нельзя пользоваться внешним Store: на sqlite одно соединение.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

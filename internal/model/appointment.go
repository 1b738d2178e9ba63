package model

import (
	"time"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// IsActive: статус ещё занимает время.
func (s AppointmentStatus) IsActive() bool {
	return s == AppointmentStatusPending || s == AppointmentStatusConfirmed
}

// appointments
type Appointment struct {
	ID uint `gorm:"primaryKey"`

	OrganizationID uint `gorm:"not null;index:idx_appt_org_status,priority:1"`
	ServiceID      uint `gorm:"not null;index"`
	SlotID         uint `gorm:"not null;index"`

	// Идентификатор чата пользователя в мессенджере.
	ChatID     int64  `gorm:"not null;index"`
	ClientName string `gorm:"type:varchar(255)"`

	Status AppointmentStatus `gorm:"type:varchar(32);not null;index:idx_appt_org_status,priority:2"`

	// Эффективное окно: [slot.StartAt, slot.StartAt + service.DurationMin).
	StartAt time.Time `gorm:"not null;index"`
	EndAt   time.Time `gorm:"not null"`

	CancelledAt  *time.Time
	CancelReason string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`

	Slot    *Slot    `gorm:"foreignKey:SlotID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Service *Service `gorm:"foreignKey:ServiceID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

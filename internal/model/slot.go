package model

import (
	"time"
)

// slots — создаются заранее генератором и после этого не меняются.
type Slot struct {
	ID uint `gorm:"primaryKey"`

	// Денормализовано из услуги, чтобы выборки по арендатору шли без JOIN.
	OrganizationID uint `gorm:"not null;index"`
	ServiceID      uint `gorm:"not null;index:idx_slot_service_start,priority:1"`

	StartAt time.Time `gorm:"not null;index:idx_slot_service_start,priority:2"`
	EndAt   time.Time `gorm:"not null"`

	// Сколько неотменённых записей слот вмещает одновременно.
	Capacity int `gorm:"not null;default:1"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`

	Service *Service `gorm:"foreignKey:ServiceID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

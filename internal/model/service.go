package model

import (
	"time"
)

// services
type Service struct {
	ID uint `gorm:"primaryKey"`

	OrganizationID uint `gorm:"not null;index"`

	Name        string `gorm:"type:varchar(255);not null"`
	Description string `gorm:"type:text"`

	// Длительность в минутах; определяет эффективное окно записи.
	DurationMin int `gorm:"not null"`

	// Цена в минимальных единицах валюты (копейки, центы).
	PriceMinor *int64 `gorm:"type:bigint"`
	Currency   string `gorm:"type:varchar(8)"`

	IsActive bool `gorm:"not null;default:true;index"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`

	Organization *Organization `gorm:"foreignKey:OrganizationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMin) * time.Minute
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// notifications — входящие уведомления дашборда, по одной записи на
// пользователя организации на каждое событие.
type Notification struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserID         uint      `gorm:"not null;index" json:"userId"`
	OrganizationID uint      `gorm:"not null;index" json:"organizationId"`
	EventID        uuid.UUID `gorm:"type:uuid;not null;index" json:"eventId"`
	Type           EventType `gorm:"type:varchar(64);not null" json:"type"`

	Title string `gorm:"type:varchar(255);not null" json:"title"`
	Body  string `gorm:"type:text" json:"body"`

	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"createdAt"`

	User *User `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

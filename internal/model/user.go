package model

import (
	"time"
)

// Роль пользователя дашборда.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// users — пользователи админ-панели. Клиенты бота здесь не хранятся,
// у записей только ChatID.
type User struct {
	ID uint `gorm:"primaryKey"`

	Email        string `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	DisplayName  string `gorm:"type:varchar(255)"`

	Role Role `gorm:"type:varchar(32);not null;default:'admin'"`

	// nil только у super_admin.
	OrganizationID *uint `gorm:"index"`

	IsActive bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

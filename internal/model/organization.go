package model

import (
	"time"

	"gorm.io/datatypes"
)

// Organization — арендатор платформы. Владеет одним (необязательным)
// токеном бота, каталогом услуг, слотами и записями.
type Organization struct {
	ID uint `gorm:"primaryKey"`

	Name         string `gorm:"type:varchar(255);not null"`
	ContactEmail string `gorm:"type:varchar(255)"`
	ContactPhone string `gorm:"type:varchar(32)"`

	// IANA-имя часового пояса, в нём генерируются слоты и показывается время.
	TimeZone string `gorm:"type:varchar(64);not null;default:'UTC'"`

	// Токен бота. nil — бот не подключён.
	BotToken    *string `gorm:"type:varchar(255);uniqueIndex"`
	BotUsername string  `gorm:"type:varchar(255)"`

	// Новые записи создаются в статусе pending и ждут подтверждения админом.
	RequireApproval bool `gorm:"not null;default:false"`

	// Шаблон рабочего времени по умолчанию (WorkingHours в JSON).
	WorkingHours datatypes.JSON

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`

	Services []Service `gorm:"foreignKey:OrganizationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Users    []User    `gorm:"foreignKey:OrganizationID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// Location — часовой пояс организации; UTC, если не задан или неизвестен.
func (o *Organization) Location() *time.Location {
	if o == nil || o.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasCredential: к организации привязан токен бота.
func (o *Organization) HasCredential() bool {
	return o != nil && o.BotToken != nil && *o.BotToken != ""
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Тип доменного события.
type EventType string

const (
	EventTypeAppointmentCreated   EventType = "appointment.created"
	EventTypeAppointmentConfirmed EventType = "appointment.confirmed"
	EventTypeAppointmentCancelled EventType = "appointment.cancelled"
	EventTypeServiceChanged       EventType = "service.changed"
	EventTypeServiceDeleted       EventType = "service.deleted"
	EventTypeSlotsGenerated       EventType = "slots.generated"
	EventTypeSlotsDeleted         EventType = "slots.deleted"
	EventTypeBotStarted           EventType = "bot.started"
	EventTypeBotStopped           EventType = "bot.stopped"
	EventTypeBotFailed            EventType = "bot.failed"
)

// Источник события.
const (
	EventSourceBot       = "bot"
	EventSourceDashboard = "dashboard"
	EventSourceSystem    = "system"
	EventSourceControl   = "control"
)

// events — неизменяемый журнал, только добавление.
type Event struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Type           EventType `gorm:"type:varchar(64);not null;index" json:"type"`
	OrganizationID uint      `gorm:"not null;index:idx_event_org_ts,priority:1" json:"organizationId"`
	Timestamp      time.Time `gorm:"not null;index:idx_event_org_ts,priority:2" json:"timestamp"`

	Payload datatypes.JSON `json:"payload"`
	Source  string         `gorm:"type:varchar(32);not null" json:"source"`
}

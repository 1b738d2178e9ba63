package model

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// WorkingHours — шаблон рабочего времени, из которого генерируются слоты.
// Время в формате "HH:MM" в часовом поясе организации.
type WorkingHours struct {
	DailyStart      string `json:"dailyStart" yaml:"daily_start"`
	DailyEnd        string `json:"dailyEnd" yaml:"daily_end"`
	BreakStart      string `json:"breakStart,omitempty" yaml:"break_start"`
	BreakEnd        string `json:"breakEnd,omitempty" yaml:"break_end"`
	WorkingWeekdays []int  `json:"workingWeekdays" yaml:"working_weekdays"` // 0 = воскресенье
	StepMinutes     int    `json:"stepMinutes,omitempty" yaml:"step_minutes"`
}

// DecodeWorkingHours разбирает JSON-колонку. Пустое значение — (nil, nil).
func DecodeWorkingHours(raw datatypes.JSON) (*WorkingHours, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wh WorkingHours
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, fmt.Errorf("decode working hours: %w", err)
	}
	return &wh, nil
}

// EncodeWorkingHours сериализует шаблон для записи в Organization.WorkingHours.
func EncodeWorkingHours(wh WorkingHours) (datatypes.JSON, error) {
	raw, err := json.Marshal(wh)
	if err != nil {
		return nil, fmt.Errorf("encode working hours: %w", err)
	}
	return datatypes.JSON(raw), nil
}

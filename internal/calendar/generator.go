package calendar

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultStepMinutes — шаг сетки, если в шаблоне он не задан.
const DefaultStepMinutes = 30

var ErrInvalidTemplate = errors.New("invalid working hours template")

// ClockTime — время суток по часам.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock разбирает "HH:MM" (24 часа).
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: bad clock time %q", ErrInvalidTemplate, s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// On — момент c в день day в поясе loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Template — недельный шаблон рабочих часов.
type Template struct {
	DailyStart  ClockTime
	DailyEnd    ClockTime
	BreakStart  *ClockTime
	BreakEnd    *ClockTime
	Weekdays    map[time.Weekday]bool
	StepMinutes int
}

// NewTemplate собирает шаблон из строк. Перерыв может быть пустым;
// дни недели в нумерации time.Weekday (0 — воскресенье).
func NewTemplate(dailyStart, dailyEnd, breakStart, breakEnd string, weekdays []int, stepMinutes int) (Template, error) {
	var tpl Template
	var err error

	if tpl.DailyStart, err = ParseClock(dailyStart); err != nil {
		return Template{}, err
	}
	if tpl.DailyEnd, err = ParseClock(dailyEnd); err != nil {
		return Template{}, err
	}
	if breakStart != "" || breakEnd != "" {
		bs, err := ParseClock(breakStart)
		if err != nil {
			return Template{}, err
		}
		be, err := ParseClock(breakEnd)
		if err != nil {
			return Template{}, err
		}
		tpl.BreakStart, tpl.BreakEnd = &bs, &be
	}

	tpl.Weekdays = make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		if d < 0 || d > 6 {
			return Template{}, fmt.Errorf("%w: weekday %d out of range", ErrInvalidTemplate, d)
		}
		tpl.Weekdays[time.Weekday(d)] = true
	}
	tpl.StepMinutes = stepMinutes

	return tpl, tpl.Validate()
}

func (t Template) Validate() error {
	if t.DailyEnd.minutes() <= t.DailyStart.minutes() {
		return fmt.Errorf("%w: daily end must be after daily start", ErrInvalidTemplate)
	}
	if (t.BreakStart == nil) != (t.BreakEnd == nil) {
		return fmt.Errorf("%w: break needs both start and end", ErrInvalidTemplate)
	}
	if t.BreakStart != nil && t.BreakEnd.minutes() <= t.BreakStart.minutes() {
		return fmt.Errorf("%w: break end must be after break start", ErrInvalidTemplate)
	}
	if t.StepMinutes < 0 {
		return fmt.Errorf("%w: step must not be negative", ErrInvalidTemplate)
	}
	if len(t.Weekdays) == 0 {
		return fmt.Errorf("%w: no working weekdays", ErrInvalidTemplate)
	}
	return nil
}

func (t Template) step() time.Duration {
	if t.StepMinutes <= 0 {
		return DefaultStepMinutes * time.Minute
	}
	return time.Duration(t.StepMinutes) * time.Minute
}

// DayPlan — номинальные слоты одного рабочего дня.
type DayPlan struct {
	Date  time.Time
	Slots []TimeRange
}

// Plan раскладывает слоты на рабочие дни [today, today+horizonDays) в loc.
// Слот длиной в шаг сетки. Шаг пропускается, если окно
// [start, start+max(step, duration)) задевает перерыв или выходит за конец
// дня, а также если начало не позже now.
func Plan(tpl Template, duration time.Duration, horizonDays int, loc *time.Location, now time.Time) []DayPlan {
	if loc == nil {
		loc = time.UTC
	}
	step := tpl.step()
	span := step
	if duration > span {
		span = duration
	}

	today := midnight(now.In(loc))
	var plans []DayPlan

	for i := 0; i < horizonDays; i++ {
		day := today.AddDate(0, 0, i)
		if !tpl.Weekdays[day.Weekday()] {
			continue
		}

		workday := TimeRange{Start: tpl.DailyStart.On(day, loc), End: tpl.DailyEnd.On(day, loc)}
		var lunch *TimeRange
		if tpl.BreakStart != nil {
			lunch = &TimeRange{Start: tpl.BreakStart.On(day, loc), End: tpl.BreakEnd.On(day, loc)}
		}

		var slots []TimeRange
		for _, s := range workday.steps(step) {
			effective := TimeRange{Start: s.Start, End: s.Start.Add(span)}
			if !s.Start.After(now) {
				continue
			}
			if effective.End.After(workday.End) {
				continue
			}
			if lunch != nil && effective.Overlaps(*lunch) {
				continue
			}
			slots = append(slots, s)
		}
		if len(slots) > 0 {
			plans = append(plans, DayPlan{Date: day, Slots: slots})
		}
	}

	return plans
}

// DaysUntilExpiry — сколько целых дней (с округлением вверх) осталось до
// latest. Для прошедших моментов ноль или меньше.
func DaysUntilExpiry(latest, now time.Time) int {
	return int(math.Ceil(latest.Sub(now).Hours() / 24))
}

// NeedsRenewal: горизонт слотов, кончающийся в latest, ближе thresholdDays
// от now.
func NeedsRenewal(latest, now time.Time, thresholdDays int) bool {
	return DaysUntilExpiry(latest, now) <= thresholdDays
}

package calendar

import (
	"fmt"
	"time"
)

// TimeRange — полуоткрытый интервал [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Overlaps: общие концы не считаются пересечением, запись встык разрешена.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// steps нарезает r на отрезки длины step от r.Start; неполный хвост отбрасывается.
func (r TimeRange) steps(step time.Duration) []TimeRange {
	if step <= 0 {
		return nil
	}
	var out []TimeRange
	for cur := r.Start; !cur.Add(step).After(r.End); cur = cur.Add(step) {
		out = append(out, TimeRange{Start: cur, End: cur.Add(step)})
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var weekdayShort = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// FormatWindow — строка для сообщений бота: "Wed 01.01.2025 10:00–11:00".
func FormatWindow(start, end time.Time, loc *time.Location) string {
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	return fmt.Sprintf("%s %s %s–%s",
		weekdayShort[start.Weekday()], start.Format("02.01.2006"), start.Format("15:04"), end.Format("15:04"))
}

// FormatClock — "HH:MM" в поясе loc.
func FormatClock(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("15:04")
}

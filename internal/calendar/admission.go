package calendar

import (
	"time"
)

// Verdict: итог проверки допуска записи.
type Verdict int

const (
	Admit Verdict = iota
	RejectOverlap
	RejectCapacity
	RejectTooLate
)

func (v Verdict) String() string {
	switch v {
	case Admit:
		return "admit"
	case RejectOverlap:
		return "overlap"
	case RejectCapacity:
		return "capacity_exceeded"
	case RejectTooLate:
		return "too_late"
	default:
		return "unknown"
	}
}

// EffectiveWindow: время, которое занимает неотменённая запись,
// [начало слота, начало слота + длительность услуги).
type EffectiveWindow struct {
	AppointmentID uint
	SlotID        uint
	Range         TimeRange
}

// Candidate: запись, которую собираются допустить.
type Candidate struct {
	SlotID   uint
	Start    time.Time
	Duration time.Duration
	// Вместимость слота; меньше 1 считается как 1.
	Capacity int
}

func (c Candidate) Window() TimeRange {
	return TimeRange{Start: c.Start, End: c.Start.Add(c.Duration)}
}

// Decision: вердикт и, при пересечении, первое мешающее окно.
type Decision struct {
	Verdict  Verdict
	Conflict *EffectiveWindow
}

func (d Decision) Admitted() bool {
	return d.Verdict == Admit
}

// Admission: правила допуска. Нулевое значение без минимального
// упреждения, часы — time.Now.
type Admission struct {
	LeadTime time.Duration
	Now      func() time.Time
}

func (a Admission) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Cutoff — самое раннее начало, на которое ещё можно записаться.
func (a Admission) Cutoff() time.Time {
	return a.now().Add(a.LeadTime)
}

// Admit решает, можно ли записать c рядом с existing. В existing только
// неотменённые записи той же организации.
//
// Порядок проверок: упреждение, затем вместимость, затем пересечение.
// Записи на тот же слот ограничены только вместимостью, остальные окна
// отказывают при строгом пересечении полуоткрытых интервалов.
func (a Admission) Admit(c Candidate, existing []EffectiveWindow) Decision {
	if c.Start.Before(a.Cutoff()) {
		return Decision{Verdict: RejectTooLate}
	}

	capacity := c.Capacity
	if capacity < 1 {
		capacity = 1
	}
	occupied := 0
	for _, w := range existing {
		if c.SlotID != 0 && w.SlotID == c.SlotID {
			occupied++
		}
	}
	if occupied >= capacity {
		return Decision{Verdict: RejectCapacity}
	}

	window := c.Window()
	for i := range existing {
		w := existing[i]
		if c.SlotID != 0 && w.SlotID == c.SlotID {
			continue
		}
		if window.Overlaps(w.Range) {
			return Decision{Verdict: RejectOverlap, Conflict: &w}
		}
	}

	return Decision{Verdict: Admit}
}

// Filter оставляет кандидатов, которых Admit пропустил бы сейчас.
// Для списков свободных слотов.
func (a Admission) Filter(candidates []Candidate, existing []EffectiveWindow) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if a.Admit(c, existing).Admitted() {
			out = append(out, c)
		}
	}
	return out
}

package service

import (
	"errors"

	"github.com/Leganyst/bookingbot/internal/calendar"
)

var (
	ErrOrganizationNotFound  = errors.New("organization not found")
	ErrServiceNotFound       = errors.New("service not found")
	ErrSlotNotFound          = errors.New("slot not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrAppointmentCancelled  = errors.New("appointment is cancelled")
	ErrHasActiveAppointments = errors.New("active appointments exist")
	ErrNoWorkingHours        = errors.New("no working hours configured")
	ErrInvalidArgument       = errors.New("invalid argument")
	// Сбой записи при бронировании. Повторно не пытаемся.
	ErrBookingFailed = errors.New("booking failed")
)

// AdmissionError — бронирование отклонено движком конфликтов.
type AdmissionError struct {
	Verdict  calendar.Verdict
	Conflict *calendar.EffectiveWindow
}

func (e *AdmissionError) Error() string {
	return "booking rejected: " + e.Verdict.String()
}

// AsAdmission достаёт AdmissionError из цепочки ошибок.
func AsAdmission(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Leganyst/bookingbot/internal/auth"
	"github.com/Leganyst/bookingbot/internal/bot"
	"github.com/Leganyst/bookingbot/internal/repository"
	"github.com/Leganyst/bookingbot/internal/service"
)

const maxBodyBytes = 1 << 20

// M: произвольный JSON-объект ответа.
type M map[string]any

func respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, M{"error": msg})
}

// decode читает JSON-тело запроса. Неизвестные поля — ошибка.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, ps httprouter.Params, name string) (uint, bool) {
	id, err := strconv.ParseUint(ps.ByName(name), 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

// statusFor переводит доменную ошибку в HTTP-код.
func statusFor(err error) int {
	if _, ok := service.AsAdmission(err); ok {
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, auth.ErrNoOrganization),
		errors.Is(err, bot.ErrAuthInvalid):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrOrganizationNotFound),
		errors.Is(err, service.ErrServiceNotFound),
		errors.Is(err, service.ErrSlotNotFound),
		errors.Is(err, service.ErrAppointmentNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrHasActiveAppointments),
		errors.Is(err, service.ErrAppointmentCancelled),
		errors.Is(err, bot.ErrCredentialInUse),
		errors.Is(err, bot.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoWorkingHours):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bot.ErrStartTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, bot.ErrNotRunning),
		errors.Is(err, bot.ErrInboxFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail отвечает ошибкой. Внутренние ошибки логируются, клиенту уходит
// общий текст.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, code, "internal error")
		return
	}
	if ae, ok := service.AsAdmission(err); ok {
		respondJSON(w, code, M{"error": ae.Error(), "verdict": ae.Verdict.String()})
		return
	}
	respondError(w, code, err.Error())
}

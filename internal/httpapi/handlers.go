package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Leganyst/bookingbot/internal/auth"
	"github.com/Leganyst/bookingbot/internal/bot"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/service"
)

type serviceView struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DurationMin int    `json:"durationMin"`
	PriceMinor  *int64 `json:"priceMinor,omitempty"`
	Currency    string `json:"currency,omitempty"`
	IsActive    bool   `json:"isActive"`
}

func newServiceView(s *model.Service) serviceView {
	return serviceView{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		DurationMin: s.DurationMin,
		PriceMinor:  s.PriceMinor,
		Currency:    s.Currency,
		IsActive:    s.IsActive,
	}
}

type appointmentView struct {
	ID           uint                    `json:"id"`
	ServiceID    uint                    `json:"serviceId"`
	ServiceName  string                  `json:"serviceName,omitempty"`
	SlotID       uint                    `json:"slotId"`
	ChatID       int64                   `json:"chatId"`
	ClientName   string                  `json:"clientName,omitempty"`
	Status       model.AppointmentStatus `json:"status"`
	StartAt      time.Time               `json:"startAt"`
	EndAt        time.Time               `json:"endAt"`
	CancelledAt  *time.Time              `json:"cancelledAt,omitempty"`
	CancelReason string                  `json:"cancelReason,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
}

func newAppointmentView(a *model.Appointment) appointmentView {
	v := appointmentView{
		ID:           a.ID,
		ServiceID:    a.ServiceID,
		SlotID:       a.SlotID,
		ChatID:       a.ChatID,
		ClientName:   a.ClientName,
		Status:       a.Status,
		StartAt:      a.StartAt,
		EndAt:        a.EndAt,
		CancelledAt:  a.CancelledAt,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt,
	}
	if a.Service != nil {
		v.ServiceName = a.Service.Name
	}
	return v
}

// ---- auth ----

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// отключённый пользователь выглядит так же, как неверный пароль
		if errors.Is(err, auth.ErrUserInactive) || errors.Is(err, auth.ErrNoOrganization) {
			err = service.ErrInvalidCredentials
		}
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, M{
		"token":          res.Token,
		"expiresAt":      res.ExpiresAt,
		"userId":         res.User.ID,
		"role":           res.User.Role,
		"organizationId": res.User.OrganizationID,
	})
}

// ---- bot ----

type activateRequest struct {
	OrganizationID uint   `json:"organizationId"`
	Credential     string `json:"credential"`
}

func (a *API) activateBot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req activateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		respondError(w, http.StatusBadRequest, "credential is required")
		return
	}
	orgID, err := organization(r, req.OrganizationID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	st, err := a.bots.Activate(r.Context(), orgID, req.Credential)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (a *API) deactivateBot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.bots.Deactivate(r.Context(), orgID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) botStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requested, ok := idParam(w, ps, "orgId")
	if !ok {
		return
	}
	orgID, err := organization(r, requested)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a.bots.Status(orgID))
}

// webhook принимает обновления бота, запущенного в режиме webhook, и ставит
// их в очередь его организации. Обновления неизвестных ботов отбрасываются
// с 200, иначе Telegram будет слать их повторно. При переполненной очереди
// отвечаем 503: Telegram повторит доставку позже.
func (a *API) webhook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.webhookSecret)) != 1 {
		respondError(w, http.StatusUnauthorized, "bad secret")
		return
	}
	botID, err := strconv.ParseInt(ps.ByName("botId"), 10, 64)
	if err != nil || botID == 0 {
		respondError(w, http.StatusBadRequest, "invalid botId")
		return
	}
	var u tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&u); err != nil {
		respondError(w, http.StatusBadRequest, "invalid update")
		return
	}
	orgID, ok := a.bots.OrganizationForBot(botID)
	if !ok {
		a.logger.Debug("webhook for unknown bot", zap.Int64("bot_id", botID))
		w.WriteHeader(http.StatusOK)
		return
	}
	if action, ok := bot.ActionFromUpdate(u); ok {
		err := a.bots.Dispatch(r.Context(), orgID, action)
		switch {
		case errors.Is(err, bot.ErrInboxFull):
			respondError(w, http.StatusServiceUnavailable, "bot is busy")
			return
		case err != nil:
			a.logger.Warn("webhook dispatch", zap.Uint("organization_id", orgID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ---- services ----

type serviceRequest struct {
	OrganizationID uint `json:"organizationId"`
	service.ServiceInput
}

func (a *API) listServices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list, err := a.booking.ListServices(r.Context(), orgID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]serviceView, 0, len(list))
	for i := range list {
		out = append(out, newServiceView(&list[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) createService(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	orgID, err := organization(r, req.OrganizationID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	svc, err := a.booking.CreateService(r.Context(), orgID, req.ServiceInput)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newServiceView(svc))
}

func (a *API) updateService(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := idParam(w, ps, "id")
	if !ok {
		return
	}
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	orgID, err := organization(r, req.OrganizationID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	svc, err := a.booking.UpdateService(r.Context(), orgID, id, req.ServiceInput)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newServiceView(svc))
}

func (a *API) deleteService(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := idParam(w, ps, "id")
	if !ok {
		return
	}
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := a.booking.DeleteService(r.Context(), orgID, id, force); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- slots ----

type generateRequest struct {
	OrganizationID uint                `json:"organizationId"`
	ServiceID      uint                `json:"serviceId"`
	HorizonDays    int                 `json:"horizonDays"`
	Capacity       int                 `json:"capacity"`
	WorkingHours   *model.WorkingHours `json:"workingHours"`
}

func (a *API) generateSlots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	orgID, err := organization(r, req.OrganizationID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.booking.GenerateSlots(r.Context(), service.GenerateRequest{
		OrganizationID: orgID,
		ServiceID:      req.ServiceID,
		WorkingHours:   req.WorkingHours,
		HorizonDays:    req.HorizonDays,
		Capacity:       req.Capacity,
		Source:         model.EventSourceDashboard,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, M{"created": created})
}

func (a *API) slotExpiry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	serviceID, ok := idParam(w, ps, "serviceId")
	if !ok {
		return
	}
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	exp, err := a.booking.SlotExpiry(r.Context(), orgID, serviceID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (a *API) deleteSlots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	deleted, err := a.booking.DeleteOrganizationSlots(r.Context(), orgID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, M{"deleted": deleted})
}

// ---- appointments ----

type appointmentRequest struct {
	OrganizationID uint   `json:"organizationId"`
	SlotID         uint   `json:"slotId"`
	ChatID         int64  `json:"chatId"`
	ClientName     string `json:"clientName"`
}

// createAppointment — запись от имени клиента из дашборда. Проходит тот же
// контроль конфликтов, что и запись из бота.
func (a *API) createAppointment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req appointmentRequest
	if !decode(w, r, &req) {
		return
	}
	orgID, err := organization(r, req.OrganizationID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	appt, err := a.booking.Confirm(r.Context(), service.BookingRequest{
		OrganizationID: orgID,
		SlotID:         req.SlotID,
		ChatID:         req.ChatID,
		ClientName:     req.ClientName,
		Source:         model.EventSourceDashboard,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newAppointmentView(appt))
}

func (a *API) listAppointments(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	page, size := queryInt(r, "page", 1), queryInt(r, "size", 20)
	if size > 100 {
		size = 100
	}
	list, total, err := a.booking.ListAppointments(r.Context(), orgID, page, size)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]appointmentView, 0, len(list))
	for i := range list {
		items = append(items, newAppointmentView(&list[i]))
	}
	respondJSON(w, http.StatusOK, M{"items": items, "total": total, "page": page, "size": size})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelAppointment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := idParam(w, ps, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	appt, err := a.booking.Cancel(r.Context(), service.CancelRequest{
		OrganizationID: orgID,
		AppointmentID:  id,
		Reason:         req.Reason,
		Source:         model.EventSourceDashboard,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAppointmentView(appt))
}

func (a *API) confirmAppointment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := idParam(w, ps, "id")
	if !ok {
		return
	}
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	appt, err := a.booking.Approve(r.Context(), orgID, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAppointmentView(appt))
}

// ---- events / notifications ----

// listEvents отдаёт журнал событий после since (RFC3339), чтобы дашборд
// догнал пропущенное после переподключения.
func (a *API) listEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
	}
	list, err := a.store.Events.ListSince(r.Context(), orgID, since.UTC(), queryInt(r, "limit", 100))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	list, err := a.store.Notifications.ListByUser(r.Context(), principal(r).UserID, unread, queryInt(r, "limit", 50))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := idParam(w, ps, "id")
	if !ok {
		return
	}
	if err := a.store.Notifications.MarkRead(r.Context(), principal(r).UserID, id, time.Now().UTC()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Leganyst/bookingbot/internal/calendar"
	"github.com/Leganyst/bookingbot/internal/config"
	"github.com/Leganyst/bookingbot/internal/events"
	"github.com/Leganyst/bookingbot/internal/metrics"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/repository"
)

// Publisher: получатель доменных событий (events.Hub).
type Publisher interface {
	Publish(ctx context.Context, ev *model.Event) error
}

// BookingService владеет записями, слотами и каталогом услуг организации.
// Все изменения публикуют событие после коммита.
type BookingService struct {
	store     *repository.Store
	publisher Publisher
	cfg       config.BookingConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type BookingOption func(*BookingService)

func WithBookingClock(now func() time.Time) BookingOption {
	return func(s *BookingService) { s.now = now }
}

func WithBookingMetrics(m *metrics.Metrics) BookingOption {
	return func(s *BookingService) { s.metrics = m }
}

func NewBookingService(
	store *repository.Store,
	publisher Publisher,
	cfg config.BookingConfig,
	logger *zap.Logger,
	opts ...BookingOption,
) *BookingService {
	s := &BookingService{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("booking"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) admission() calendar.Admission {
	return calendar.Admission{LeadTime: s.cfg.LeadTime, Now: s.now}
}

// publish отправляет событие; запись уже закоммичена, поэтому ошибка только логируется.
func (s *BookingService) publish(ctx context.Context, t model.EventType, organizationID uint, source string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.Build(t, organizationID, source, payload)); err != nil {
		s.logger.Error("publish event failed",
			zap.String("type", string(t)),
			zap.Uint("organization_id", organizationID),
			zap.Error(err),
		)
	}
}

// BookingRequest: подтверждение записи клиентом на слот.
type BookingRequest struct {
	OrganizationID uint
	SlotID         uint
	ChatID         int64
	ClientName     string
	Source         string
}

// Confirm атомарно проверяет и создаёт запись. В одной транзакции:
// блокировка организации, перечитывание активных окон, Admit, вставка.
// Отказ движка — *AdmissionError без побочных эффектов.
func (s *BookingService) Confirm(ctx context.Context, req BookingRequest) (*model.Appointment, error) {
	if req.OrganizationID == 0 || req.SlotID == 0 {
		return nil, fmt.Errorf("%w: organization and slot are required", ErrInvalidArgument)
	}
	if req.Source == "" {
		req.Source = model.EventSourceBot
	}
	log := s.logger.With(
		zap.Uint("organization_id", req.OrganizationID),
		zap.Uint("slot_id", req.SlotID),
		zap.Int64("chat_id", req.ChatID),
	)

	var (
		appt    *model.Appointment
		service *model.Service
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		org, err := tx.Organizations.LockForUpdate(ctx, req.OrganizationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}

		slot, err := tx.Slots.GetWithService(ctx, req.SlotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSlotNotFound
			}
			return err
		}
		// чужой слот не отличаем от несуществующего
		if slot.OrganizationID != org.ID || !slot.Service.IsActive {
			return ErrSlotNotFound
		}

		windows, err := tx.Appointments.FindActiveWindows(ctx, org.ID, s.now().UTC())
		if err != nil {
			return err
		}

		cand := calendar.Candidate{
			SlotID:   slot.ID,
			Start:    slot.StartAt,
			Duration: slot.Service.Duration(),
			Capacity: slot.Capacity,
		}
		decision := s.admission().Admit(cand, windows)
		if !decision.Admitted() {
			return &AdmissionError{Verdict: decision.Verdict, Conflict: decision.Conflict}
		}

		status := model.AppointmentStatusConfirmed
		if org.RequireApproval {
			status = model.AppointmentStatusPending
		}
		window := cand.Window()
		appt = &model.Appointment{
			OrganizationID: org.ID,
			ServiceID:      slot.ServiceID,
			SlotID:         slot.ID,
			ChatID:         req.ChatID,
			ClientName:     strings.TrimSpace(req.ClientName),
			Status:         status,
			StartAt:        window.Start.UTC(),
			EndAt:          window.End.UTC(),
		}
		if err := tx.Appointments.Create(ctx, appt); err != nil {
			return fmt.Errorf("%w: %v", ErrBookingFailed, err)
		}
		service = slot.Service
		return nil
	})
	if err != nil {
		if ae, ok := AsAdmission(err); ok {
			s.metrics.Admission(ae.Verdict.String())
			log.Debug("booking rejected", zap.Stringer("verdict", ae.Verdict))
			return nil, ae
		}
		if errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrOrganizationNotFound) {
			return nil, err
		}
		log.Error("booking failed", zap.Error(err))
		if errors.Is(err, ErrBookingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	s.metrics.Admission(calendar.Admit.String())
	appt.Service = service
	log.Info("appointment created", zap.Uint("appointment_id", appt.ID), zap.String("status", string(appt.Status)))

	s.publish(ctx, model.EventTypeAppointmentCreated, appt.OrganizationID, req.Source, appointmentPayload(appt, ""))
	return appt, nil
}

// CancelRequest: отмена записи. ChatID != 0 ограничивает отмену записями этого чата.
type CancelRequest struct {
	OrganizationID uint
	AppointmentID  uint
	ChatID         int64
	Reason         string
	Source         string
}

// Cancel идемпотентна: повторная отмена успешна и события не порождает.
func (s *BookingService) Cancel(ctx context.Context, req CancelRequest) (*model.Appointment, error) {
	if req.Source == "" {
		req.Source = model.EventSourceBot
	}
	appt, err := s.store.Appointments.GetByID(ctx, req.AppointmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if appt.OrganizationID != req.OrganizationID || (req.ChatID != 0 && appt.ChatID != req.ChatID) {
		return nil, ErrAppointmentNotFound
	}

	now := s.now().UTC()
	changed, err := s.store.Appointments.UpdateStatus(ctx, appt.ID, repository.ActiveStatuses,
		model.AppointmentStatusCancelled, now, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	if !changed {
		return appt, nil
	}

	appt.Status = model.AppointmentStatusCancelled
	appt.CancelledAt = &now
	appt.CancelReason = req.Reason
	s.logger.Info("appointment cancelled",
		zap.Uint("organization_id", appt.OrganizationID),
		zap.Uint("appointment_id", appt.ID),
		zap.String("source", req.Source),
	)
	s.publish(ctx, model.EventTypeAppointmentCancelled, appt.OrganizationID, req.Source, appointmentPayload(appt, req.Reason))
	return appt, nil
}

// Approve переводит pending в confirmed. Уже подтверждённая — no-op.
func (s *BookingService) Approve(ctx context.Context, organizationID, appointmentID uint) (*model.Appointment, error) {
	appt, err := s.store.Appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if appt.OrganizationID != organizationID {
		return nil, ErrAppointmentNotFound
	}

	changed, err := s.store.Appointments.UpdateStatus(ctx, appt.ID,
		[]model.AppointmentStatus{model.AppointmentStatusPending}, model.AppointmentStatusConfirmed, s.now().UTC(), "")
	if err != nil {
		return nil, fmt.Errorf("approve appointment: %w", err)
	}
	if !changed {
		if appt.Status == model.AppointmentStatusCancelled {
			return nil, ErrAppointmentCancelled
		}
		// статус мог смениться между чтением и обновлением
		fresh, err := s.store.Appointments.GetByID(ctx, appt.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status == model.AppointmentStatusCancelled {
			return nil, ErrAppointmentCancelled
		}
		return fresh, nil
	}

	appt.Status = model.AppointmentStatusConfirmed
	s.publish(ctx, model.EventTypeAppointmentConfirmed, appt.OrganizationID, model.EventSourceDashboard, appointmentPayload(appt, ""))
	return appt, nil
}

func appointmentPayload(a *model.Appointment, reason string) map[string]any {
	p := map[string]any{
		"appointmentId": a.ID,
		"serviceId":     a.ServiceID,
		"slotId":        a.SlotID,
		"chatId":        a.ChatID,
		"clientName":    a.ClientName,
		"status":        a.Status,
		"startAt":       a.StartAt,
		"endAt":         a.EndAt,
	}
	name := "Appointment"
	if a.Service != nil {
		name = a.Service.Name
	}
	p["message"] = fmt.Sprintf("%s at %s", name, a.StartAt.UTC().Format("02.01.2006 15:04 MST"))
	if reason != "" {
		p["reason"] = reason
	}
	return p
}

// activeService загружает услугу и проверяет, что она принадлежит организации.
func (s *BookingService) activeService(ctx context.Context, store *repository.Store, organizationID, serviceID uint) (*model.Service, error) {
	svc, err := store.Services.GetByID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	if svc.OrganizationID != organizationID {
		return nil, ErrServiceNotFound
	}
	return svc, nil
}

func (s *BookingService) organization(ctx context.Context, store *repository.Store, organizationID uint) (*model.Organization, error) {
	org, err := store.Organizations.GetByID(ctx, organizationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return org, nil
}

// Organization возвращает организацию по ID.
func (s *BookingService) Organization(ctx context.Context, organizationID uint) (*model.Organization, error) {
	return s.organization(ctx, s.store, organizationID)
}

// freeSlots: слоты услуги в [from, to), которые сейчас прошли бы Admit.
// Только подсказка: окончательная проверка в Confirm.
func (s *BookingService) freeSlots(ctx context.Context, svc *model.Service, from, to time.Time) ([]model.Slot, error) {
	slots, err := s.store.Slots.ListByServiceRange(ctx, svc.ID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	if len(slots) == 0 {
		return slots, nil
	}
	windows, err := s.store.Appointments.FindActiveWindows(ctx, svc.OrganizationID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("find windows: %w", err)
	}

	adm := s.admission()
	free := make([]model.Slot, 0, len(slots))
	for _, slot := range slots {
		c := calendar.Candidate{SlotID: slot.ID, Start: slot.StartAt, Duration: svc.Duration(), Capacity: slot.Capacity}
		if adm.Admit(c, windows).Admitted() {
			free = append(free, slot)
		}
	}
	return free, nil
}

// AvailableSlots: свободные слоты услуги на календарный день в поясе организации.
func (s *BookingService) AvailableSlots(ctx context.Context, organizationID, serviceID uint, day time.Time) ([]model.Slot, error) {
	org, err := s.organization(ctx, s.store, organizationID)
	if err != nil {
		return nil, err
	}
	svc, err := s.activeService(ctx, s.store, organizationID, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, ErrServiceNotFound
	}

	loc := org.Location()
	d := day.In(loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return s.freeSlots(ctx, svc, from, from.AddDate(0, 0, 1))
}

// AvailableDates: даты (полночь в поясе организации) ближайших days дней,
// на которые есть хотя бы один свободный слот.
func (s *BookingService) AvailableDates(ctx context.Context, organizationID, serviceID uint, days int) ([]time.Time, error) {
	if days <= 0 {
		days = s.cfg.SelectableDays
	}
	org, err := s.organization(ctx, s.store, organizationID)
	if err != nil {
		return nil, err
	}
	svc, err := s.activeService(ctx, s.store, organizationID, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, ErrServiceNotFound
	}

	loc := org.Location()
	now := s.now().In(loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	free, err := s.freeSlots(ctx, svc, from, from.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	var dates []time.Time
	seen := make(map[string]bool)
	for _, slot := range free {
		local := slot.StartAt.In(loc)
		key := local.Format(time.DateOnly)
		if seen[key] {
			continue
		}
		seen[key] = true
		dates = append(dates, time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc))
	}
	return dates, nil
}

// GenerateRequest: генерация слотов услуги по шаблону рабочего времени.
type GenerateRequest struct {
	OrganizationID uint
	ServiceID      uint
	// nil — шаблон организации по умолчанию.
	WorkingHours *model.WorkingHours
	HorizonDays  int
	Capacity     int
	Source       string
}

// GenerateSlots идемпотентна по дням: даты, на которые у услуги уже есть
// слоты, пропускаются. Возвращает число созданных слотов.
func (s *BookingService) GenerateSlots(ctx context.Context, req GenerateRequest) (int, error) {
	if req.HorizonDays <= 0 {
		req.HorizonDays = s.cfg.HorizonDays
	}
	if req.Capacity <= 0 {
		req.Capacity = 1
	}
	if req.Source == "" {
		req.Source = model.EventSourceDashboard
	}

	created := 0
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		org, err := tx.Organizations.LockForUpdate(ctx, req.OrganizationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}
		svc, err := s.activeService(ctx, tx, org.ID, req.ServiceID)
		if err != nil {
			return err
		}

		wh := req.WorkingHours
		if wh == nil {
			if wh, err = model.DecodeWorkingHours(org.WorkingHours); err != nil {
				return err
			}
		}
		if wh == nil {
			return ErrNoWorkingHours
		}
		step := wh.StepMinutes
		if step <= 0 {
			step = s.cfg.DefaultStepMinutes
		}
		tpl, err := calendar.NewTemplate(wh.DailyStart, wh.DailyEnd, wh.BreakStart, wh.BreakEnd, wh.WorkingWeekdays, step)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}

		loc := org.Location()
		plans := calendar.Plan(tpl, svc.Duration(), req.HorizonDays, loc, s.now())
		if len(plans) == 0 {
			return nil
		}

		from := plans[0].Date
		to := plans[len(plans)-1].Date.AddDate(0, 0, 1)
		starts, err := tx.Slots.StartTimesByServiceRange(ctx, svc.ID, from.UTC(), to.UTC())
		if err != nil {
			return fmt.Errorf("existing slots: %w", err)
		}
		covered := make(map[string]bool, len(starts))
		for _, st := range starts {
			covered[st.In(loc).Format(time.DateOnly)] = true
		}

		var batch []model.Slot
		for _, p := range plans {
			if covered[p.Date.Format(time.DateOnly)] {
				continue
			}
			for _, r := range p.Slots {
				batch = append(batch, model.Slot{
					OrganizationID: org.ID,
					ServiceID:      svc.ID,
					StartAt:        r.Start.UTC(),
					EndAt:          r.End.UTC(),
					Capacity:       req.Capacity,
				})
			}
		}
		if err := tx.Slots.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("create slots: %w", err)
		}
		created = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		s.logger.Info("slots generated",
			zap.Uint("organization_id", req.OrganizationID),
			zap.Uint("service_id", req.ServiceID),
			zap.Int("created", created),
		)
		s.publish(ctx, model.EventTypeSlotsGenerated, req.OrganizationID, req.Source, map[string]any{
			"serviceId": req.ServiceID,
			"created":   created,
			"message":   fmt.Sprintf("%d slots generated", created),
		})
	}
	return created, nil
}

// SlotExpiry: сколько дней осталось до последнего слота услуги.
type SlotExpiry struct {
	LatestSlot   *time.Time `json:"latestSlot,omitempty"`
	DaysLeft     int        `json:"daysLeft"`
	NeedsRenewal bool       `json:"needsRenewal"`
}

func (s *BookingService) SlotExpiry(ctx context.Context, organizationID, serviceID uint) (SlotExpiry, error) {
	if _, err := s.activeService(ctx, s.store, organizationID, serviceID); err != nil {
		return SlotExpiry{}, err
	}
	latest, err := s.store.Slots.FindLatest(ctx, serviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return SlotExpiry{NeedsRenewal: true}, nil
	}
	if err != nil {
		return SlotExpiry{}, err
	}

	now := s.now()
	days := calendar.DaysUntilExpiry(latest.StartAt, now)
	if days < 0 {
		days = 0
	}
	return SlotExpiry{
		LatestSlot:   &latest.StartAt,
		DaysLeft:     days,
		NeedsRenewal: calendar.NeedsRenewal(latest.StartAt, now, s.cfg.RenewalThresholdDays),
	}, nil
}

// ServiceInput: поля услуги, задаваемые админом.
type ServiceInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DurationMin int    `json:"durationMin"`
	PriceMinor  *int64 `json:"priceMinor,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

func (in ServiceInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if in.DurationMin <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}
	if in.PriceMinor != nil && *in.PriceMinor < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidArgument)
	}
	return nil
}

func (s *BookingService) CreateService(ctx context.Context, organizationID uint, in ServiceInput) (*model.Service, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.organization(ctx, s.store, organizationID); err != nil {
		return nil, err
	}

	svc := &model.Service{
		OrganizationID: organizationID,
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		DurationMin:    in.DurationMin,
		PriceMinor:     in.PriceMinor,
		Currency:       strings.ToUpper(in.Currency),
		IsActive:       true,
	}
	if err := s.store.Services.Create(ctx, svc); err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	s.publish(ctx, model.EventTypeServiceChanged, organizationID, model.EventSourceDashboard, map[string]any{
		"serviceId": svc.ID,
		"action":    "created",
		"message":   svc.Name,
	})
	return svc, nil
}

// UpdateService меняет описание и цену. Длительность уже созданных записей
// не пересчитывается.
func (s *BookingService) UpdateService(ctx context.Context, organizationID, serviceID uint, in ServiceInput) (*model.Service, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	svc, err := s.activeService(ctx, s.store, organizationID, serviceID)
	if err != nil {
		return nil, err
	}
	svc.Name = strings.TrimSpace(in.Name)
	svc.Description = in.Description
	svc.DurationMin = in.DurationMin
	svc.PriceMinor = in.PriceMinor
	svc.Currency = strings.ToUpper(in.Currency)
	if err := s.store.Services.Update(ctx, svc); err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}

	s.publish(ctx, model.EventTypeServiceChanged, organizationID, model.EventSourceDashboard, map[string]any{
		"serviceId": svc.ID,
		"action":    "updated",
		"message":   svc.Name,
	})
	return svc, nil
}

// DeleteService запрещено при активных будущих записях, если не force.
// force удаляет слоты и записи услуги.
func (s *BookingService) DeleteService(ctx context.Context, organizationID, serviceID uint, force bool) error {
	var removed int64
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Organizations.LockForUpdate(ctx, organizationID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}
		svc, err := s.activeService(ctx, tx, organizationID, serviceID)
		if err != nil {
			return err
		}
		active, err := tx.Appointments.CountActiveFutureByService(ctx, svc.ID, s.now().UTC())
		if err != nil {
			return err
		}
		if active > 0 && !force {
			return fmt.Errorf("%w: %d upcoming", ErrHasActiveAppointments, active)
		}

		if removed, err = tx.Appointments.DeleteByService(ctx, svc.ID); err != nil {
			return err
		}
		if _, err := tx.Slots.DeleteByService(ctx, svc.ID); err != nil {
			return err
		}
		return tx.Services.Delete(ctx, svc.ID)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, model.EventTypeServiceDeleted, organizationID, model.EventSourceDashboard, map[string]any{
		"serviceId":           serviceID,
		"removedAppointments": removed,
		"forced":              force,
	})
	return nil
}

// DeleteOrganizationSlots удаляет все слоты организации. Запрещено, пока
// на них ссылается хоть одна неотменённая запись.
func (s *BookingService) DeleteOrganizationSlots(ctx context.Context, organizationID uint) (int64, error) {
	var deleted int64
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Organizations.LockForUpdate(ctx, organizationID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}
		active, err := tx.Appointments.CountActiveByOrganization(ctx, organizationID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: %d not cancelled", ErrHasActiveAppointments, active)
		}
		deleted, err = tx.Slots.DeleteByOrganization(ctx, organizationID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, model.EventTypeSlotsDeleted, organizationID, model.EventSourceDashboard, map[string]any{
		"deleted": deleted,
		"message": fmt.Sprintf("%d slots deleted", deleted),
	})
	return deleted, nil
}

// ListServices: активные услуги организации (для меню бота).
func (s *BookingService) ListServices(ctx context.Context, organizationID uint) ([]model.Service, error) {
	return s.store.Services.ListActive(ctx, organizationID)
}

// ListUpcoming: будущие неотменённые записи чата.
func (s *BookingService) ListUpcoming(ctx context.Context, organizationID uint, chatID int64) ([]model.Appointment, error) {
	return s.store.Appointments.ListByChat(ctx, organizationID, chatID, s.now().UTC())
}

// ListAppointments: записи организации постранично (page с 1).
func (s *BookingService) ListAppointments(ctx context.Context, organizationID uint, page, size int) ([]model.Appointment, int64, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return s.store.Appointments.ListByOrganization(ctx, organizationID, size, (page-1)*size)
}

package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Leganyst/bookingbot/internal/calendar"
	"github.com/Leganyst/bookingbot/internal/config"
	"github.com/Leganyst/bookingbot/internal/events"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/repository"
)

// Понедельник, 08:00 UTC.
var testNow = time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "service.db")+"?_foreign_keys=on&_busy_timeout=5000"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, model.AutoMigrate(db))
	return repository.NewStore(db)
}

type env struct {
	store *repository.Store
	svc   *BookingService
	org   *model.Organization
}

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		LeadTime:             30 * time.Minute,
		HorizonDays:          7,
		RenewalThresholdDays: 3,
		SelectableDays:       14,
		DefaultStepMinutes:   30,
	}
}

func newEnv(t *testing.T, requireApproval bool) *env {
	t.Helper()
	return newEnvOn(t, newTestStore(t), requireApproval)
}

// newEnvOn заводит организацию с владельцем в store. Email уникален,
// чтобы тесты могли делить одну базу.
func newEnvOn(t *testing.T, store *repository.Store, requireApproval bool) *env {
	t.Helper()
	ctx := context.Background()

	wh, err := model.EncodeWorkingHours(model.WorkingHours{
		DailyStart:      "09:00",
		DailyEnd:        "18:00",
		BreakStart:      "13:00",
		BreakEnd:        "14:00",
		WorkingWeekdays: []int{1, 2, 3, 4, 5},
		StepMinutes:     30,
	})
	require.NoError(t, err)
	org := &model.Organization{Name: "Barber", TimeZone: "UTC", RequireApproval: requireApproval, WorkingHours: wh}
	require.NoError(t, store.Organizations.Create(ctx, org))
	require.NoError(t, store.Users.Create(ctx, &model.User{
		Email: "owner-" + uuid.NewString() + "@example.com", PasswordHash: "x", OrganizationID: &org.ID, IsActive: true,
	}))

	hub := events.NewHub(store, zap.NewNop())
	svc := NewBookingService(store, hub, testBookingConfig(), zap.NewNop(),
		WithBookingClock(func() time.Time { return testNow }))
	return &env{store: store, svc: svc, org: org}
}

func (e *env) service(t *testing.T, name string, durationMin int) *model.Service {
	t.Helper()
	s, err := e.svc.CreateService(context.Background(), e.org.ID, ServiceInput{Name: name, DurationMin: durationMin})
	require.NoError(t, err)
	return s
}

func (e *env) slot(t *testing.T, svc *model.Service, start time.Time, capacity int) model.Slot {
	t.Helper()
	s := model.Slot{
		OrganizationID: svc.OrganizationID,
		ServiceID:      svc.ID,
		StartAt:        start,
		EndAt:          start.Add(30 * time.Minute),
		Capacity:       capacity,
	}
	slots := []model.Slot{s}
	require.NoError(t, e.store.Slots.CreateBatch(context.Background(), slots))
	return slots[0]
}

func (e *env) confirm(slotID uint, chatID int64) (*model.Appointment, error) {
	return e.svc.Confirm(context.Background(), BookingRequest{
		OrganizationID: e.org.ID, SlotID: slotID, ChatID: chatID, ClientName: "Ann",
	})
}

func (e *env) eventCount(t *testing.T, typ model.EventType) int {
	t.Helper()
	evs, err := e.store.Events.ListSince(context.Background(), e.org.ID, time.Time{}, 1000)
	require.NoError(t, err)
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func requireVerdict(t *testing.T, err error, want calendar.Verdict) {
	t.Helper()
	ae, ok := AsAdmission(err)
	require.True(t, ok, "expected admission error, got %v", err)
	assert.Equal(t, want, ae.Verdict)
}

func at(hour, minute int) time.Time {
	return time.Date(2030, 1, 7, hour, minute, 0, 0, time.UTC)
}

func TestConfirm_LongServiceBlocksOtherServices(t *testing.T) {
	e := newEnv(t, false)
	long := e.service(t, "Coloring", 180)
	short := e.service(t, "Trim", 30)
	slotA := e.slot(t, long, at(9, 0), 1)
	slotB := e.slot(t, short, at(10, 0), 1)

	appt, err := e.confirm(slotA.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, at(12, 0), appt.EndAt.UTC())
	assert.Equal(t, model.AppointmentStatusConfirmed, appt.Status)

	_, err = e.confirm(slotB.ID, 2)
	requireVerdict(t, err, calendar.RejectOverlap)

	free, err := e.svc.AvailableSlots(context.Background(), e.org.ID, short.ID, at(0, 0))
	require.NoError(t, err)
	assert.Empty(t, free)
	assert.Equal(t, 1, e.eventCount(t, model.EventTypeAppointmentCreated))
}

func TestConfirm_BackToBackIsAllowed(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 60)
	first := e.slot(t, svc, at(9, 0), 1)
	second := e.slot(t, svc, at(10, 0), 1)

	_, err := e.confirm(first.ID, 1)
	require.NoError(t, err)
	_, err = e.confirm(second.ID, 2)
	require.NoError(t, err)
}

func TestConfirm_Capacity(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Yoga class", 60)
	slot := e.slot(t, svc, at(10, 0), 2)

	_, err := e.confirm(slot.ID, 1)
	require.NoError(t, err)
	_, err = e.confirm(slot.ID, 2)
	require.NoError(t, err)
	_, err = e.confirm(slot.ID, 3)
	requireVerdict(t, err, calendar.RejectCapacity)
}

func TestConfirm_LeadTime(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	soon := e.slot(t, svc, at(8, 10), 1)
	later := e.slot(t, svc, at(9, 0), 1)

	free, err := e.svc.AvailableSlots(context.Background(), e.org.ID, svc.ID, at(0, 0))
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, later.ID, free[0].ID)

	_, err = e.confirm(soon.ID, 1)
	requireVerdict(t, err, calendar.RejectTooLate)
}

func TestConfirm_ForeignOrMissingSlot(t *testing.T) {
	e := newEnv(t, false)
	other := &model.Organization{Name: "Dentist", TimeZone: "UTC"}
	require.NoError(t, e.store.Organizations.Create(context.Background(), other))
	foreignSvc := &model.Service{OrganizationID: other.ID, Name: "Checkup", DurationMin: 30, IsActive: true}
	require.NoError(t, e.store.Services.Create(context.Background(), foreignSvc))
	foreign := e.slot(t, foreignSvc, at(10, 0), 1)

	_, err := e.confirm(foreign.ID, 1)
	require.ErrorIs(t, err, ErrSlotNotFound)

	_, err = e.confirm(9999, 1)
	require.ErrorIs(t, err, ErrSlotNotFound)

	_, err = e.svc.Confirm(context.Background(), BookingRequest{OrganizationID: 777, SlotID: foreign.ID})
	require.ErrorIs(t, err, ErrOrganizationNotFound)
}

// sqlite с одним соединением; вариант для postgres с FOR UPDATE —
// booking_postgres_test.go (тег postgres).
func TestConfirm_ConcurrentRequestsNeverOverlap(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Massage", 60)

	// слоты через 30 минут при длительности 60: соседние пересекаются
	var slots []model.Slot
	for i := 0; i < 6; i++ {
		slots = append(slots, e.slot(t, svc, at(10, 0).Add(time.Duration(i)*30*time.Minute), 1))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.confirm(slots[i%len(slots)].ID, int64(i))
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
				return
			}
			if _, ok := AsAdmission(err); !ok {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	windows, err := e.store.Appointments.FindActiveWindows(context.Background(), e.org.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, windows, admitted)
	assert.GreaterOrEqual(t, admitted, 2)
	for i := range windows {
		for j := i + 1; j < len(windows); j++ {
			assert.False(t, windows[i].Range.Overlaps(windows[j].Range),
				"appointments %d and %d overlap", windows[i].AppointmentID, windows[j].AppointmentID)
		}
	}
}

func TestConfirm_ConcurrentSameSlotAdmitsOne(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	slot := e.slot(t, svc, at(11, 0), 1)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.confirm(slot.ID, int64(i))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireVerdict(t, err, calendar.RejectCapacity)
	}
	assert.Equal(t, 1, ok)
}

func TestCancel_IsIdempotent(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	slot := e.slot(t, svc, at(11, 0), 1)
	appt, err := e.confirm(slot.ID, 42)
	require.NoError(t, err)

	req := CancelRequest{OrganizationID: e.org.ID, AppointmentID: appt.ID, ChatID: 42, Reason: "changed plans"}
	first, err := e.svc.Cancel(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, first.Status)

	second, err := e.svc.Cancel(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, second.Status)
	assert.Equal(t, 1, e.eventCount(t, model.EventTypeAppointmentCancelled))

	// слот снова свободен
	free, err := e.svc.AvailableSlots(context.Background(), e.org.ID, svc.ID, at(0, 0))
	require.NoError(t, err)
	require.Len(t, free, 1)
	_, err = e.confirm(slot.ID, 43)
	require.NoError(t, err)
}

func TestCancel_ScopedToOwner(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	appt, err := e.confirm(e.slot(t, svc, at(11, 0), 1).ID, 42)
	require.NoError(t, err)

	_, err = e.svc.Cancel(context.Background(), CancelRequest{OrganizationID: e.org.ID, AppointmentID: appt.ID, ChatID: 7})
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = e.svc.Cancel(context.Background(), CancelRequest{OrganizationID: e.org.ID + 1, AppointmentID: appt.ID})
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	// дашборд отменяет без ChatID
	_, err = e.svc.Cancel(context.Background(), CancelRequest{
		OrganizationID: e.org.ID, AppointmentID: appt.ID, Source: model.EventSourceDashboard,
	})
	require.NoError(t, err)
}

func TestApprove(t *testing.T) {
	e := newEnv(t, true)
	svc := e.service(t, "Haircut", 30)
	slot := e.slot(t, svc, at(11, 0), 1)

	appt, err := e.confirm(slot.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, appt.Status)

	// pending тоже занимает время
	_, err = e.confirm(slot.ID, 2)
	requireVerdict(t, err, calendar.RejectCapacity)

	approved, err := e.svc.Approve(context.Background(), e.org.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, approved.Status)

	again, err := e.svc.Approve(context.Background(), e.org.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, again.Status)
	assert.Equal(t, 1, e.eventCount(t, model.EventTypeAppointmentConfirmed))

	_, err = e.svc.Cancel(context.Background(), CancelRequest{OrganizationID: e.org.ID, AppointmentID: appt.ID})
	require.NoError(t, err)
	_, err = e.svc.Approve(context.Background(), e.org.ID, appt.ID)
	require.ErrorIs(t, err, ErrAppointmentCancelled)
}

func TestGenerateSlots_Idempotent(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	ctx := context.Background()
	req := GenerateRequest{OrganizationID: e.org.ID, ServiceID: svc.ID}

	created, err := e.svc.GenerateSlots(ctx, req)
	require.NoError(t, err)
	// Пн–Пт по 16 слотов, выходные пустые
	assert.Equal(t, 80, created)

	again, err := e.svc.GenerateSlots(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Equal(t, 1, e.eventCount(t, model.EventTypeSlotsGenerated))

	slots, err := e.store.Slots.ListByServiceRange(ctx, svc.ID, testNow, testNow.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, slots, 80)
	for _, s := range slots {
		wd := s.StartAt.UTC().Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
		assert.Equal(t, 30*time.Minute, s.EndAt.Sub(s.StartAt))
	}
}

func TestGenerateSlots_ExplicitTemplateAndErrors(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Coloring", 120)
	ctx := context.Background()

	created, err := e.svc.GenerateSlots(ctx, GenerateRequest{
		OrganizationID: e.org.ID,
		ServiceID:      svc.ID,
		HorizonDays:    1,
		WorkingHours: &model.WorkingHours{
			DailyStart: "09:00", DailyEnd: "13:00", WorkingWeekdays: []int{1}, StepMinutes: 60,
		},
	})
	require.NoError(t, err)
	// 09, 10, 11: окно 120 минут должно закончиться до 13:00
	assert.Equal(t, 3, created)

	_, err = e.svc.GenerateSlots(ctx, GenerateRequest{
		OrganizationID: e.org.ID, ServiceID: svc.ID,
		WorkingHours: &model.WorkingHours{DailyStart: "18:00", DailyEnd: "09:00", WorkingWeekdays: []int{1}},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.svc.GenerateSlots(ctx, GenerateRequest{OrganizationID: e.org.ID, ServiceID: 9999})
	require.ErrorIs(t, err, ErrServiceNotFound)

	bare := &model.Organization{Name: "No hours", TimeZone: "UTC"}
	require.NoError(t, e.store.Organizations.Create(ctx, bare))
	bareSvc := &model.Service{OrganizationID: bare.ID, Name: "X", DurationMin: 30, IsActive: true}
	require.NoError(t, e.store.Services.Create(ctx, bareSvc))
	_, err = e.svc.GenerateSlots(ctx, GenerateRequest{OrganizationID: bare.ID, ServiceID: bareSvc.ID})
	require.ErrorIs(t, err, ErrNoWorkingHours)
}

func TestSlotExpiry(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	ctx := context.Background()

	exp, err := e.svc.SlotExpiry(ctx, e.org.ID, svc.ID)
	require.NoError(t, err)
	assert.True(t, exp.NeedsRenewal)
	assert.Nil(t, exp.LatestSlot)

	_, err = e.svc.GenerateSlots(ctx, GenerateRequest{OrganizationID: e.org.ID, ServiceID: svc.ID})
	require.NoError(t, err)

	exp, err = e.svc.SlotExpiry(ctx, e.org.ID, svc.ID)
	require.NoError(t, err)
	require.NotNil(t, exp.LatestSlot)
	// последний слот — пятница 17:30
	assert.Equal(t, time.Date(2030, 1, 11, 17, 30, 0, 0, time.UTC), exp.LatestSlot.UTC())
	assert.Equal(t, 5, exp.DaysLeft)
	assert.False(t, exp.NeedsRenewal)
}

func TestAvailableDates(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	e.slot(t, svc, at(11, 0), 1)
	e.slot(t, svc, at(12, 0), 1)
	taken := e.slot(t, svc, at(11, 0).AddDate(0, 0, 1), 1)
	e.slot(t, svc, at(11, 0).AddDate(0, 0, 3), 1)

	_, err := e.confirm(taken.ID, 1)
	require.NoError(t, err)

	dates, err := e.svc.AvailableDates(context.Background(), e.org.ID, svc.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(0, 0), at(0, 0).AddDate(0, 0, 3)}, utc(dates))
}

func utc(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.UTC()
	}
	return out
}

func TestServiceCatalog(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	_, err := e.svc.CreateService(ctx, e.org.ID, ServiceInput{Name: " ", DurationMin: 30})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.svc.CreateService(ctx, e.org.ID, ServiceInput{Name: "Haircut", DurationMin: 0})
	require.ErrorIs(t, err, ErrInvalidArgument)

	price := int64(150000)
	svc, err := e.svc.CreateService(ctx, e.org.ID, ServiceInput{Name: " Haircut ", DurationMin: 45, PriceMinor: &price, Currency: "rub"})
	require.NoError(t, err)
	assert.Equal(t, "Haircut", svc.Name)
	assert.Equal(t, "RUB", svc.Currency)

	updated, err := e.svc.UpdateService(ctx, e.org.ID, svc.ID, ServiceInput{Name: "Men's haircut", DurationMin: 60})
	require.NoError(t, err)
	assert.Equal(t, 60, updated.DurationMin)

	_, err = e.svc.UpdateService(ctx, e.org.ID+1, svc.ID, ServiceInput{Name: "x", DurationMin: 30})
	require.ErrorIs(t, err, ErrServiceNotFound)

	list, err := e.svc.ListServices(ctx, e.org.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Men's haircut", list[0].Name)
	assert.Equal(t, 2, e.eventCount(t, model.EventTypeServiceChanged))
}

func TestDeleteService(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	svc := e.service(t, "Haircut", 30)
	slot := e.slot(t, svc, at(11, 0), 1)
	_, err := e.confirm(slot.ID, 1)
	require.NoError(t, err)

	err = e.svc.DeleteService(ctx, e.org.ID, svc.ID, false)
	require.ErrorIs(t, err, ErrHasActiveAppointments)

	require.NoError(t, e.svc.DeleteService(ctx, e.org.ID, svc.ID, true))
	_, err = e.store.Services.GetByID(ctx, svc.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, total, err := e.svc.ListAppointments(ctx, e.org.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, 1, e.eventCount(t, model.EventTypeServiceDeleted))

	// только отменённые записи удалению не мешают
	other := e.service(t, "Trim", 30)
	appt, err := e.confirm(e.slot(t, other, at(12, 0), 1).ID, 1)
	require.NoError(t, err)
	_, err = e.svc.Cancel(ctx, CancelRequest{OrganizationID: e.org.ID, AppointmentID: appt.ID})
	require.NoError(t, err)
	require.NoError(t, e.svc.DeleteService(ctx, e.org.ID, other.ID, false))
}

func TestDeleteOrganizationSlots(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	svc := e.service(t, "Haircut", 30)
	slot := e.slot(t, svc, at(11, 0), 1)
	e.slot(t, svc, at(12, 0), 1)
	appt, err := e.confirm(slot.ID, 1)
	require.NoError(t, err)

	_, err = e.svc.DeleteOrganizationSlots(ctx, e.org.ID)
	require.ErrorIs(t, err, ErrHasActiveAppointments)

	_, err = e.svc.Cancel(ctx, CancelRequest{OrganizationID: e.org.ID, AppointmentID: appt.ID})
	require.NoError(t, err)

	deleted, err := e.svc.DeleteOrganizationSlots(ctx, e.org.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, err = e.svc.DeleteOrganizationSlots(ctx, 9999)
	require.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestListings(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	svc := e.service(t, "Haircut", 30)
	for i := 0; i < 3; i++ {
		_, err := e.confirm(e.slot(t, svc, at(10+i, 0), 1).ID, 5)
		require.NoError(t, err)
	}
	_, err := e.confirm(e.slot(t, svc, at(15, 0), 1).ID, 6)
	require.NoError(t, err)

	mine, err := e.svc.ListUpcoming(ctx, e.org.ID, 5)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.True(t, mine[0].StartAt.Before(mine[1].StartAt))
	require.NotNil(t, mine[0].Service)
	assert.Equal(t, "Haircut", mine[0].Service.Name)

	page, total, err := e.svc.ListAppointments(ctx, e.org.ID, 2, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, page, 1)
}

func TestPublisherFailureDoesNotFailBooking(t *testing.T) {
	e := newEnv(t, false)
	svc := e.service(t, "Haircut", 30)
	slot := e.slot(t, svc, at(11, 0), 1)

	broken := NewBookingService(e.store, failingPublisher{}, testBookingConfig(), zap.NewNop(),
		WithBookingClock(func() time.Time { return testNow }))
	appt, err := broken.Confirm(context.Background(), BookingRequest{OrganizationID: e.org.ID, SlotID: slot.ID, ChatID: 1})
	require.NoError(t, err)
	assert.NotZero(t, appt.ID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *model.Event) error {
	return errors.New("event store down")
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Leganyst/bookingbot/internal/calendar"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/service"
)

var _ Booker = (*service.BookingService)(nil)

var day = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

type fakeBooker struct {
	mu         sync.Mutex
	services   []model.Service
	slots      []model.Slot
	taken      map[uint]bool
	confirmErr error
	confirmed  []service.BookingRequest
	cancelled  []service.CancelRequest
	upcoming   []model.Appointment
	approval   bool
}

func newFakeBooker(slotCount int) *fakeBooker {
	b := &fakeBooker{
		services: []model.Service{{ID: 1, OrganizationID: 1, Name: "Haircut", DurationMin: 30, IsActive: true}},
		taken:    make(map[uint]bool),
	}
	for i := 0; i < slotCount; i++ {
		start := day.Add(9*time.Hour + time.Duration(i)*30*time.Minute)
		b.slots = append(b.slots, model.Slot{
			ID: uint(10 + i), OrganizationID: 1, ServiceID: 1,
			StartAt: start, EndAt: start.Add(30 * time.Minute), Capacity: 1,
		})
	}
	return b
}

func (b *fakeBooker) Organization(_ context.Context, id uint) (*model.Organization, error) {
	return &model.Organization{ID: id, TimeZone: "UTC"}, nil
}

func (b *fakeBooker) ListServices(context.Context, uint) ([]model.Service, error) {
	return b.services, nil
}

func (b *fakeBooker) free() []model.Slot {
	var out []model.Slot
	for _, s := range b.slots {
		if !b.taken[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func (b *fakeBooker) AvailableDates(context.Context, uint, uint, int) ([]time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.free()) == 0 {
		return nil, nil
	}
	return []time.Time{day}, nil
}

func (b *fakeBooker) AvailableSlots(_ context.Context, _ uint, _ uint, d time.Time) ([]model.Slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !d.Equal(day) {
		return nil, nil
	}
	return b.free(), nil
}

func (b *fakeBooker) Confirm(_ context.Context, req service.BookingRequest) (*model.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.confirmErr != nil {
		err := b.confirmErr
		b.confirmErr = nil
		return nil, err
	}
	b.confirmed = append(b.confirmed, req)
	b.taken[req.SlotID] = true
	status := model.AppointmentStatusConfirmed
	if b.approval {
		status = model.AppointmentStatusPending
	}
	appt := &model.Appointment{ID: 99, SlotID: req.SlotID, ChatID: req.ChatID, Status: status}
	for _, s := range b.slots {
		if s.ID == req.SlotID {
			appt.StartAt = s.StartAt
			appt.EndAt = s.StartAt.Add(b.services[0].Duration())
		}
	}
	return appt, nil
}

func (b *fakeBooker) Cancel(_ context.Context, req service.CancelRequest) (*model.Appointment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.AppointmentID != 99 {
		return nil, service.ErrAppointmentNotFound
	}
	b.cancelled = append(b.cancelled, req)
	return &model.Appointment{ID: 99, Status: model.AppointmentStatusCancelled}, nil
}

func (b *fakeBooker) ListUpcoming(context.Context, uint, int64) ([]model.Appointment, error) {
	return b.upcoming, nil
}

type recReplier struct {
	replies []Reply
}

func (r *recReplier) Send(_ context.Context, _ int64, reply Reply) error {
	r.replies = append(r.replies, reply)
	return nil
}

func (r *recReplier) last(t *testing.T) Reply {
	t.Helper()
	require.NotEmpty(t, r.replies)
	return r.replies[len(r.replies)-1]
}

func buttonData(r Reply) []string {
	var out []string
	for _, row := range r.Buttons {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

type assistantFunc func(ctx context.Context, org uint, q string) (string, error)

func (f assistantFunc) Answer(ctx context.Context, org uint, q string) (string, error) {
	return f(ctx, org, q)
}

type chat struct {
	t    *testing.T
	conv *Conversation
	r    *recReplier
	msg  int
}

const testChat int64 = 777

func (c *chat) command(name string) Reply {
	c.msg++
	c.conv.Handle(context.Background(), 1, Action{Kind: ActionCommand, ChatID: testChat, Text: name, MessageID: c.msg}, c.r)
	return c.r.last(c.t)
}

func (c *chat) text(s string) Reply {
	c.msg++
	c.conv.Handle(context.Background(), 1, Action{Kind: ActionText, ChatID: testChat, Text: s, MessageID: c.msg}, c.r)
	return c.r.last(c.t)
}

func (c *chat) press(data string) Reply {
	c.conv.Handle(context.Background(), 1, Action{
		Kind: ActionCallback, ChatID: testChat, UserName: "Ann",
		Data: data, CallbackID: "cb-" + data, MessageID: c.msg,
	}, c.r)
	return c.r.last(c.t)
}

func newChat(t *testing.T, b Booker, opts ...ConversationOption) *chat {
	return &chat{t: t, conv: NewConversation(b, 30*time.Minute, 14, zap.NewNop(), opts...), r: &recReplier{}}
}

func TestConversation_HappyPath(t *testing.T) {
	b := newFakeBooker(3)
	c := newChat(t, b)

	r := c.command("book")
	assert.Equal(t, DialogSelectingService, c.conv.State(1, testChat))
	assert.Equal(t, []string{"svc:1", "abort"}, buttonData(r))
	assert.Zero(t, r.EditMessageID)

	r = c.press("svc:1")
	assert.Equal(t, DialogSelectingDate, c.conv.State(1, testChat))
	assert.Contains(t, buttonData(r), "date:2030-01-07")
	assert.Equal(t, c.msg, r.EditMessageID)
	assert.Equal(t, "cb-svc:1", r.CallbackID)

	r = c.press("date:2030-01-07")
	assert.Equal(t, DialogSelectingSlot, c.conv.State(1, testChat))
	assert.Equal(t, []string{"slot:10", "slot:11", "slot:12", "back", "abort"}, buttonData(r))
	assert.Equal(t, "09:00", r.Buttons[0][0].Text)

	r = c.press("slot:11")
	assert.Equal(t, DialogConfirming, c.conv.State(1, testChat))
	assert.Contains(t, r.Text, "09:30")

	r = c.press("confirm")
	assert.Equal(t, DialogDone, c.conv.State(1, testChat))
	assert.True(t, strings.HasPrefix(r.Text, "Booked"))
	require.Len(t, b.confirmed, 1)
	assert.Equal(t, service.BookingRequest{
		OrganizationID: 1, SlotID: 11, ChatID: testChat, ClientName: "Ann", Source: model.EventSourceBot,
	}, b.confirmed[0])
}

func TestConversation_LongServiceShowsBookedWindow(t *testing.T) {
	b := newFakeBooker(3)
	b.services[0].DurationMin = 90
	c := newChat(t, b)

	c.command("book")
	c.press("svc:1")
	c.press("date:2030-01-07")

	// слоты нарезаны по 30 минут, а запись занимает длительность услуги
	r := c.press("slot:10")
	assert.Contains(t, r.Text, "09:00–10:30")
	assert.NotContains(t, r.Text, "09:00–09:30")

	r = c.press("confirm")
	assert.True(t, strings.HasPrefix(r.Text, "Booked"))
	assert.Contains(t, r.Text, "09:00–10:30")
}

func TestConversation_PendingApprovalText(t *testing.T) {
	b := newFakeBooker(1)
	b.approval = true
	c := newChat(t, b)

	c.command("book")
	c.press("svc:1")
	c.press("date:2030-01-07")
	c.press("slot:10")
	r := c.press("confirm")
	assert.True(t, strings.HasPrefix(r.Text, "Request sent"))
}

func TestConversation_RejectionReturnsToSlots(t *testing.T) {
	cases := []struct {
		verdict calendar.Verdict
		text    string
	}{
		{calendar.RejectCapacity, msgTaken},
		{calendar.RejectOverlap, msgOverlap},
		{calendar.RejectTooLate, msgTooLate},
	}
	for _, tc := range cases {
		t.Run(tc.verdict.String(), func(t *testing.T) {
			b := newFakeBooker(3)
			c := newChat(t, b)
			c.command("book")
			c.press("svc:1")
			c.press("date:2030-01-07")
			c.press("slot:10")

			b.mu.Lock()
			b.confirmErr = &service.AdmissionError{Verdict: tc.verdict}
			// пока клиент думал, слот заняли
			b.taken[10] = true
			b.mu.Unlock()

			r := c.press("confirm")
			assert.Equal(t, DialogSelectingSlot, c.conv.State(1, testChat))
			assert.True(t, strings.HasPrefix(r.Text, tc.text), r.Text)
			assert.Equal(t, []string{"slot:11", "slot:12", "back", "abort"}, buttonData(r))
			assert.Empty(t, b.confirmed)

			r = c.press("slot:11")
			assert.Equal(t, DialogConfirming, c.conv.State(1, testChat))
			c.press("confirm")
			assert.Equal(t, DialogDone, c.conv.State(1, testChat))
		})
	}
}

func TestConversation_LastSlotTakenFallsBackToDates(t *testing.T) {
	b := newFakeBooker(1)
	c := newChat(t, b)
	c.command("book")
	c.press("svc:1")
	c.press("date:2030-01-07")
	c.press("slot:10")

	b.mu.Lock()
	b.confirmErr = &service.AdmissionError{Verdict: calendar.RejectCapacity}
	b.taken[10] = true
	b.mu.Unlock()

	r := c.press("confirm")
	assert.Equal(t, DialogSelectingService, c.conv.State(1, testChat))
	assert.Contains(t, r.Text, msgTaken)
	assert.Contains(t, r.Text, msgNoDates)
}

func TestConversation_SlotVanishedBeforeConfirming(t *testing.T) {
	b := newFakeBooker(2)
	c := newChat(t, b)
	c.command("book")
	c.press("svc:1")
	c.press("date:2030-01-07")

	b.mu.Lock()
	b.taken[10] = true
	b.mu.Unlock()

	r := c.press("slot:10")
	assert.Equal(t, DialogSelectingSlot, c.conv.State(1, testChat))
	assert.True(t, strings.HasPrefix(r.Text, msgTaken))
}

func TestConversation_Paging(t *testing.T) {
	b := newFakeBooker(15)
	c := newChat(t, b)
	c.command("book")
	c.press("svc:1")

	r := c.press("date:2030-01-07")
	data := buttonData(r)
	assert.Len(t, data, slotsPerPage+3)
	assert.Contains(t, data, "page:2")
	assert.NotContains(t, data, "page:0")

	r = c.press("page:2")
	assert.Equal(t, []string{"slot:22", "slot:23", "slot:24", "page:1", "back", "abort"}, buttonData(r))
}

func TestConversation_BackAndAbort(t *testing.T) {
	b := newFakeBooker(2)
	c := newChat(t, b)
	c.command("book")
	c.press("svc:1")
	c.press("date:2030-01-07")
	c.press("slot:10")

	c.press("back")
	assert.Equal(t, DialogSelectingSlot, c.conv.State(1, testChat))
	c.press("back")
	assert.Equal(t, DialogSelectingDate, c.conv.State(1, testChat))
	c.press("back")
	assert.Equal(t, DialogSelectingService, c.conv.State(1, testChat))

	r := c.press("abort")
	assert.Equal(t, DialogCancelled, c.conv.State(1, testChat))
	assert.Equal(t, msgAborted, r.Text)
	assert.Empty(t, b.confirmed)
}

func TestConversation_StaleCallbacks(t *testing.T) {
	b := newFakeBooker(2)
	c := newChat(t, b)

	for _, data := range []string{"confirm", "slot:10", "date:2030-01-07", "svc:1", "page:2", "garbage"} {
		r := c.press(data)
		assert.Equal(t, msgStale, r.Text, data)
	}
	assert.Empty(t, b.confirmed)

	c.command("book")
	r := c.press("svc:abc")
	assert.Equal(t, msgStale, r.Text)
}

func TestConversation_DialogExpires(t *testing.T) {
	now := time.Date(2030, 1, 6, 12, 0, 0, 0, time.UTC)
	b := newFakeBooker(2)
	c := newChat(t, b, WithConversationClock(func() time.Time { return now }))

	c.command("book")
	c.press("svc:1")
	assert.Equal(t, DialogSelectingDate, c.conv.State(1, testChat))

	now = now.Add(31 * time.Minute)
	assert.Equal(t, DialogIdle, c.conv.State(1, testChat))

	r := c.press("date:2030-01-07")
	assert.Equal(t, msgStale, r.Text)
}

func TestConversation_DialogsArePerChatAndOrganization(t *testing.T) {
	b := newFakeBooker(2)
	conv := NewConversation(b, time.Minute, 14, zap.NewNop())
	r := &recReplier{}
	ctx := context.Background()

	conv.Handle(ctx, 1, Action{Kind: ActionCommand, ChatID: 1, Text: "book"}, r)
	conv.Handle(ctx, 1, Action{Kind: ActionCallback, ChatID: 1, Data: "svc:1"}, r)

	assert.Equal(t, DialogSelectingDate, conv.State(1, 1))
	assert.Equal(t, DialogIdle, conv.State(1, 2))
	assert.Equal(t, DialogIdle, conv.State(2, 1))
}

func TestConversation_MyAppointmentsAndCancel(t *testing.T) {
	b := newFakeBooker(1)
	svc := b.services[0]
	b.upcoming = []model.Appointment{{
		ID: 99, Service: &svc, Status: model.AppointmentStatusPending,
		StartAt: day.Add(9 * time.Hour), EndAt: day.Add(9*time.Hour + 30*time.Minute),
	}}
	c := newChat(t, b)

	r := c.command("my")
	assert.Contains(t, r.Text, "Haircut")
	assert.Contains(t, r.Text, "awaiting confirmation")
	assert.Equal(t, []string{"cancel:99"}, buttonData(r))

	r = c.press("cancel:99")
	assert.Equal(t, "Appointment cancelled.", r.Text)
	require.Len(t, b.cancelled, 1)
	assert.Equal(t, testChat, b.cancelled[0].ChatID)
	assert.Equal(t, model.EventSourceBot, b.cancelled[0].Source)

	r = c.press("cancel:5")
	assert.Equal(t, "Appointment not found.", r.Text)

	b.upcoming = nil
	r = c.command("my")
	assert.Equal(t, msgNoUpcoming, r.Text)
}

func TestConversation_FreeText(t *testing.T) {
	b := newFakeBooker(1)

	c := newChat(t, b)
	assert.Equal(t, msgHelp, c.text("what are your hours?").Text)

	var asked string
	c = newChat(t, b, WithAssistant(assistantFunc(func(_ context.Context, org uint, q string) (string, error) {
		asked = fmt.Sprintf("%d:%s", org, q)
		return "We work 9 to 18.", nil
	})))
	assert.Equal(t, "We work 9 to 18.", c.text("what are your hours?").Text)
	assert.Equal(t, "1:what are your hours?", asked)

	// внутри диалога текст не уходит ассистенту
	c.command("book")
	asked = ""
	assert.Equal(t, msgUseButtons, c.text("tomorrow please").Text)
	assert.Empty(t, asked)

	c = newChat(t, b, WithAssistant(assistantFunc(func(context.Context, uint, string) (string, error) {
		return "", errors.New("model unavailable")
	})))
	assert.Equal(t, msgHelp, c.text("hi").Text)
}

func TestConversation_NoServices(t *testing.T) {
	b := newFakeBooker(0)
	b.services = nil
	c := newChat(t, b)

	r := c.command("start")
	assert.Equal(t, msgNoServices, r.Text)
	assert.Equal(t, DialogIdle, c.conv.State(1, testChat))

	assert.Equal(t, msgHelp, c.command("help").Text)
}

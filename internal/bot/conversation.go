package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Leganyst/bookingbot/internal/calendar"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/service"
)

// DialogState — шаг диалога записи.
type DialogState int

const (
	DialogIdle DialogState = iota
	DialogSelectingService
	DialogSelectingDate
	DialogSelectingSlot
	DialogConfirming
	DialogDone
	DialogCancelled
)

func (s DialogState) String() string {
	switch s {
	case DialogIdle:
		return "idle"
	case DialogSelectingService:
		return "selecting_service"
	case DialogSelectingDate:
		return "selecting_date"
	case DialogSelectingSlot:
		return "selecting_slot"
	case DialogConfirming:
		return "confirming"
	case DialogDone:
		return "done"
	case DialogCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const slotsPerPage = 12

// Тексты ответов.
const (
	msgChooseService = "Choose a service:"
	msgNoServices    = "There are no services to book yet."
	msgNoDates       = "There are no free dates for this service in the coming days."
	msgNoSlots       = "No free time left on this day. Pick another date:"
	msgStale         = "This menu is outdated. Send /book to start again."
	msgAborted       = "Booking cancelled."
	msgTaken         = "Sorry, this time is already taken."
	msgOverlap       = "Sorry, this time overlaps another booking."
	msgTooLate       = "Sorry, it is too late to book this time."
	msgFailed        = "Something went wrong. Please try again later."
	msgNoUpcoming    = "You have no upcoming appointments."
	msgUseButtons    = "Please use the buttons above, or send /book to start over."
	msgHelp          = "/book - book an appointment\n/my - your appointments\n/help - this message"
)

// Booker — операции записи, которые нужны диалогу.
type Booker interface {
	Organization(ctx context.Context, organizationID uint) (*model.Organization, error)
	ListServices(ctx context.Context, organizationID uint) ([]model.Service, error)
	AvailableDates(ctx context.Context, organizationID, serviceID uint, days int) ([]time.Time, error)
	AvailableSlots(ctx context.Context, organizationID, serviceID uint, day time.Time) ([]model.Slot, error)
	Confirm(ctx context.Context, req service.BookingRequest) (*model.Appointment, error)
	Cancel(ctx context.Context, req service.CancelRequest) (*model.Appointment, error)
	ListUpcoming(ctx context.Context, organizationID uint, chatID int64) ([]model.Appointment, error)
}

// Assistant отвечает на свободный текст вне диалога записи.
type Assistant interface {
	Answer(ctx context.Context, organizationID uint, question string) (string, error)
}

type dialogKey struct {
	organizationID uint
	chatID         int64
}

type dialog struct {
	mu sync.Mutex

	state       DialogState
	serviceID   uint
	serviceName string
	// длительность услуги: запись занимает её, а не шаг сетки слотов
	serviceDur time.Duration
	date       time.Time
	slotID     uint
	page       int
	updated    time.Time
}

func (d *dialog) reset() {
	d.state = DialogIdle
	d.serviceID, d.serviceName, d.serviceDur = 0, "", 0
	d.date = time.Time{}
	d.slotID = 0
	d.page = 1
}

// Conversation — конечный автомат записи по чатам. Хранилище меняет только
// переход Confirming -> Done.
type Conversation struct {
	booker    Booker
	assistant Assistant
	ttl       time.Duration
	days      int
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	dialogs   map[dialogKey]*dialog
	lastPrune time.Time
}

type ConversationOption func(*Conversation)

func WithAssistant(a Assistant) ConversationOption {
	return func(c *Conversation) { c.assistant = a }
}

func WithConversationClock(now func() time.Time) ConversationOption {
	return func(c *Conversation) { c.now = now }
}

// NewConversation. ttl — через сколько простоя диалог забывается,
// days — сколько дней вперёд предлагать.
func NewConversation(booker Booker, ttl time.Duration, days int, logger *zap.Logger, opts ...ConversationOption) *Conversation {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if days <= 0 {
		days = 14
	}
	c := &Conversation{
		booker:  booker,
		ttl:     ttl,
		days:    days,
		logger:  logger.Named("conversation"),
		now:     time.Now,
		dialogs: make(map[dialogKey]*dialog),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dialogFor возвращает диалог чата; протухший начинается заново.
func (c *Conversation) dialogFor(key dialogKey) *dialog {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastPrune) > time.Minute {
		for k, d := range c.dialogs {
			if d.mu.TryLock() {
				if now.Sub(d.updated) > c.ttl {
					delete(c.dialogs, k)
				}
				d.mu.Unlock()
			}
		}
		c.lastPrune = now
	}

	d, ok := c.dialogs[key]
	if !ok {
		d = &dialog{page: 1, updated: now}
		c.dialogs[key] = d
	}
	return d
}

// State — текущий шаг диалога чата (для тестов и отладки).
func (c *Conversation) State(organizationID uint, chatID int64) DialogState {
	c.mu.Lock()
	d, ok := c.dialogs[dialogKey{organizationID, chatID}]
	c.mu.Unlock()
	if !ok {
		return DialogIdle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.now().Sub(d.updated) > c.ttl {
		return DialogIdle
	}
	return d.state
}

// turn — одно действие в рамках диалога.
type turn struct {
	ctx    context.Context
	org    uint
	a      Action
	r      Replier
	d      *dialog
	loc    *time.Location
	logger *zap.Logger
}

func (t *turn) reply(text string, buttons [][]Button) {
	rep := Reply{Text: text, Buttons: buttons, CallbackID: t.a.CallbackID}
	if t.a.Kind == ActionCallback {
		rep.EditMessageID = t.a.MessageID
	}
	if err := t.r.Send(t.ctx, t.a.ChatID, rep); err != nil {
		t.logger.Warn("send reply", zap.Error(err))
	}
}

func (c *Conversation) Handle(ctx context.Context, organizationID uint, a Action, r Replier) {
	d := c.dialogFor(dialogKey{organizationID, a.ChatID})
	d.mu.Lock()
	defer d.mu.Unlock()

	now := c.now()
	if now.Sub(d.updated) > c.ttl {
		d.reset()
	}
	d.updated = now

	t := &turn{
		ctx: ctx,
		org: organizationID,
		a:   a,
		r:   r,
		d:   d,
		loc: time.UTC,
		logger: c.logger.With(
			zap.Uint("organization_id", organizationID),
			zap.Int64("chat_id", a.ChatID),
		),
	}
	if org, err := c.booker.Organization(ctx, organizationID); err == nil {
		t.loc = org.Location()
	}

	switch a.Kind {
	case ActionCommand:
		c.onCommand(t)
	case ActionCallback:
		c.onCallback(t)
	default:
		c.onText(t)
	}
}

func (c *Conversation) onCommand(t *turn) {
	switch strings.ToLower(t.a.Text) {
	case "start", "book":
		t.d.reset()
		c.showServices(t)
	case "my":
		c.showUpcoming(t)
	case "cancel":
		t.d.reset()
		t.d.state = DialogCancelled
		t.reply(msgAborted, nil)
	default:
		t.reply(msgHelp, nil)
	}
}

func (c *Conversation) onText(t *turn) {
	switch t.d.state {
	case DialogSelectingService, DialogSelectingDate, DialogSelectingSlot, DialogConfirming:
		t.reply(msgUseButtons, nil)
		return
	}
	if c.assistant == nil || strings.TrimSpace(t.a.Text) == "" {
		t.reply(msgHelp, nil)
		return
	}
	answer, err := c.assistant.Answer(t.ctx, t.org, t.a.Text)
	if err != nil || answer == "" {
		if err != nil {
			t.logger.Warn("assistant answer", zap.Error(err))
		}
		t.reply(msgHelp, nil)
		return
	}
	t.reply(answer, nil)
}

func splitData(data string) (string, string) {
	kind, arg, _ := strings.Cut(data, ":")
	return kind, arg
}

func parseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func (c *Conversation) onCallback(t *turn) {
	kind, arg := splitData(t.a.Data)

	switch kind {
	case "abort":
		t.d.reset()
		t.d.state = DialogCancelled
		t.reply(msgAborted, nil)
		return
	case "cancel":
		c.cancelAppointment(t, arg)
		return
	case "back":
		c.back(t)
		return
	}

	switch {
	case kind == "svc" && t.d.state == DialogSelectingService:
		id, ok := parseID(arg)
		if !ok {
			t.reply(msgStale, nil)
			return
		}
		c.selectService(t, id)
	case kind == "date" && t.d.state == DialogSelectingDate:
		day, err := time.ParseInLocation(time.DateOnly, arg, t.loc)
		if err != nil {
			t.reply(msgStale, nil)
			return
		}
		t.d.date = day
		t.d.page = 1
		c.showSlots(t, "")
	case kind == "page" && t.d.state == DialogSelectingSlot:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			t.reply(msgStale, nil)
			return
		}
		t.d.page = n
		c.showSlots(t, "")
	case kind == "slot" && t.d.state == DialogSelectingSlot:
		id, ok := parseID(arg)
		if !ok {
			t.reply(msgStale, nil)
			return
		}
		c.selectSlot(t, id)
	case kind == "confirm" && t.d.state == DialogConfirming:
		c.confirm(t)
	default:
		t.reply(msgStale, nil)
	}
}

func (c *Conversation) showServices(t *turn) {
	services, err := c.booker.ListServices(t.ctx, t.org)
	if err != nil {
		t.logger.Error("list services", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	if len(services) == 0 {
		t.d.state = DialogIdle
		t.reply(msgNoServices, nil)
		return
	}

	rows := make([][]Button, 0, len(services)+1)
	for _, s := range services {
		rows = append(rows, []Button{{Text: serviceLabel(s), Data: fmt.Sprintf("svc:%d", s.ID)}})
	}
	rows = append(rows, []Button{{Text: "Cancel", Data: "abort"}})
	t.d.state = DialogSelectingService
	t.reply(msgChooseService, rows)
}

func serviceLabel(s model.Service) string {
	label := fmt.Sprintf("%s (%d min)", s.Name, s.DurationMin)
	if s.PriceMinor != nil {
		label += fmt.Sprintf(", %d.%02d %s", *s.PriceMinor/100, *s.PriceMinor%100, s.Currency)
	}
	return label
}

func (c *Conversation) selectService(t *turn, serviceID uint) {
	services, err := c.booker.ListServices(t.ctx, t.org)
	if err != nil {
		t.logger.Error("list services", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	var svc *model.Service
	for i := range services {
		if services[i].ID == serviceID {
			svc = &services[i]
			break
		}
	}
	if svc == nil {
		c.showServices(t)
		return
	}
	t.d.serviceID = svc.ID
	t.d.serviceName = svc.Name
	t.d.serviceDur = svc.Duration()
	c.showDates(t, "")
}

func (c *Conversation) showDates(t *turn, prefix string) {
	dates, err := c.booker.AvailableDates(t.ctx, t.org, t.d.serviceID, c.days)
	if err != nil {
		t.logger.Error("available dates", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	if len(dates) == 0 {
		t.d.state = DialogSelectingService
		t.reply(joinText(prefix, msgNoDates), [][]Button{{{Text: "Back", Data: "back"}}})
		return
	}

	var rows [][]Button
	row := make([]Button, 0, 3)
	for _, d := range dates {
		row = append(row, Button{
			Text: d.In(t.loc).Format("Mon 02.01"),
			Data: "date:" + d.In(t.loc).Format(time.DateOnly),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = make([]Button, 0, 3)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []Button{{Text: "Back", Data: "back"}, {Text: "Cancel", Data: "abort"}})

	t.d.state = DialogSelectingDate
	t.reply(joinText(prefix, fmt.Sprintf("%s: choose a date", t.d.serviceName)), rows)
}

// showSlots показывает свободное время выбранного дня; prefix — текст
// перед списком (например, причина отказа).
func (c *Conversation) showSlots(t *turn, prefix string) {
	slots, err := c.booker.AvailableSlots(t.ctx, t.org, t.d.serviceID, t.d.date)
	if err != nil {
		t.logger.Error("available slots", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	if len(slots) == 0 {
		c.showDates(t, joinText(prefix, msgNoSlots))
		return
	}

	page := calendar.Paginate(slots, t.d.page, slotsPerPage)
	buttons := make([]Button, 0, len(page.Items))
	for _, s := range page.Items {
		buttons = append(buttons, Button{Text: calendar.FormatClock(s.StartAt, t.loc), Data: fmt.Sprintf("slot:%d", s.ID)})
	}
	rows := calendar.Rows(buttons, 4)
	var nav []Button
	if page.HasPrev {
		nav = append(nav, Button{Text: "« Earlier", Data: fmt.Sprintf("page:%d", page.Page-1)})
	}
	if page.HasNext {
		nav = append(nav, Button{Text: "Later »", Data: fmt.Sprintf("page:%d", page.Page+1)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, []Button{{Text: "Back", Data: "back"}, {Text: "Cancel", Data: "abort"}})

	t.d.state = DialogSelectingSlot
	t.d.page = page.Page
	t.reply(joinText(prefix, fmt.Sprintf("%s, %s: choose a time", t.d.serviceName, t.d.date.Format("Mon 02.01"))), rows)
}

func (c *Conversation) selectSlot(t *turn, slotID uint) {
	slots, err := c.booker.AvailableSlots(t.ctx, t.org, t.d.serviceID, t.d.date)
	if err != nil {
		t.logger.Error("available slots", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	var slot *model.Slot
	for i := range slots {
		if slots[i].ID == slotID {
			slot = &slots[i]
			break
		}
	}
	if slot == nil {
		c.showSlots(t, msgTaken)
		return
	}

	t.d.slotID = slot.ID
	t.d.state = DialogConfirming

	when := calendar.FormatWindow(slot.StartAt, slot.StartAt.Add(t.d.serviceDur), t.loc)
	t.reply(fmt.Sprintf("Confirm booking?\n%s\n%s", t.d.serviceName, when), [][]Button{
		{{Text: "Confirm", Data: "confirm"}},
		{{Text: "Back", Data: "back"}, {Text: "Cancel", Data: "abort"}},
	})
}

func (c *Conversation) confirm(t *turn) {
	appt, err := c.booker.Confirm(t.ctx, service.BookingRequest{
		OrganizationID: t.org,
		SlotID:         t.d.slotID,
		ChatID:         t.a.ChatID,
		ClientName:     t.a.UserName,
		Source:         model.EventSourceBot,
	})
	if err != nil {
		if ae, ok := service.AsAdmission(err); ok {
			c.showSlots(t, rejectionText(ae.Verdict))
			return
		}
		if errors.Is(err, service.ErrSlotNotFound) || errors.Is(err, service.ErrServiceNotFound) {
			c.showSlots(t, msgTaken)
			return
		}
		t.logger.Error("confirm booking", zap.Error(err))
		t.reply(msgFailed, [][]Button{
			{{Text: "Try again", Data: "confirm"}},
			{{Text: "Back", Data: "back"}, {Text: "Cancel", Data: "abort"}},
		})
		return
	}

	when := calendar.FormatWindow(appt.StartAt, appt.EndAt, t.loc)
	text := fmt.Sprintf("Booked: %s\n%s", t.d.serviceName, when)
	if appt.Status == model.AppointmentStatusPending {
		text = fmt.Sprintf("Request sent: %s\n%s\nWe will confirm it shortly.", t.d.serviceName, when)
	}
	t.d.reset()
	t.d.state = DialogDone
	t.reply(text, nil)
}

func rejectionText(v calendar.Verdict) string {
	switch v {
	case calendar.RejectCapacity:
		return msgTaken
	case calendar.RejectOverlap:
		return msgOverlap
	case calendar.RejectTooLate:
		return msgTooLate
	default:
		return msgFailed
	}
}

func (c *Conversation) back(t *turn) {
	switch t.d.state {
	case DialogConfirming:
		t.d.slotID = 0
		c.showSlots(t, "")
	case DialogSelectingSlot:
		c.showDates(t, "")
	case DialogSelectingDate, DialogSelectingService:
		t.d.serviceID, t.d.serviceName, t.d.serviceDur = 0, "", 0
		c.showServices(t)
	default:
		t.reply(msgStale, nil)
	}
}

func (c *Conversation) showUpcoming(t *turn) {
	appts, err := c.booker.ListUpcoming(t.ctx, t.org, t.a.ChatID)
	if err != nil {
		t.logger.Error("list upcoming", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	if len(appts) == 0 {
		t.reply(msgNoUpcoming, nil)
		return
	}

	var b strings.Builder
	b.WriteString("Your appointments:")
	rows := make([][]Button, 0, len(appts))
	for i, a := range appts {
		name := "Appointment"
		if a.Service != nil {
			name = a.Service.Name
		}
		when := calendar.FormatWindow(a.StartAt, a.EndAt, t.loc)
		fmt.Fprintf(&b, "\n%d. %s, %s", i+1, name, when)
		if a.Status == model.AppointmentStatusPending {
			b.WriteString(" (awaiting confirmation)")
		}
		rows = append(rows, []Button{{Text: fmt.Sprintf("Cancel #%d", i+1), Data: fmt.Sprintf("cancel:%d", a.ID)}})
	}
	t.reply(b.String(), rows)
}

func (c *Conversation) cancelAppointment(t *turn, arg string) {
	id, ok := parseID(arg)
	if !ok {
		t.reply(msgStale, nil)
		return
	}
	_, err := c.booker.Cancel(t.ctx, service.CancelRequest{
		OrganizationID: t.org,
		AppointmentID:  id,
		ChatID:         t.a.ChatID,
		Reason:         "cancelled by client",
		Source:         model.EventSourceBot,
	})
	if errors.Is(err, service.ErrAppointmentNotFound) {
		t.reply("Appointment not found.", nil)
		return
	}
	if err != nil {
		t.logger.Error("cancel appointment", zap.Error(err))
		t.reply(msgFailed, nil)
		return
	}
	t.reply("Appointment cancelled.", nil)
}

func joinText(prefix, text string) string {
	if prefix == "" {
		return text
	}
	return prefix + "\n" + text
}

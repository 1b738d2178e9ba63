// Package events сохраняет события и рассылает их сессиям дашборда
// организации.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Leganyst/bookingbot/internal/metrics"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/repository"
)

const defaultSendBuffer = 64

// envelope — формат всех сообщений, уходящих в websocket.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Build собирает событие с payload в JSON. Не сериализуемый payload
// отбрасывается.
func Build(t model.EventType, organizationID uint, source string, payload any) *model.Event {
	ev := &model.Event{Type: t, OrganizationID: organizationID, Source: source}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = datatypes.JSON(raw)
		}
	}
	return ev
}

type Hub struct {
	store      *repository.Store
	logger     *zap.Logger
	metrics    *metrics.Metrics
	relay      Relay
	instanceID string
	sendBuffer int
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[uint]map[*Client]struct{}

	locksMu  sync.Mutex
	orgLocks map[uint]*sync.Mutex
}

type Option func(*Hub)

// WithRelay включает обмен событиями между процессами.
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(store *repository.Store, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		store:      store,
		logger:     logger.Named("events"),
		instanceID: uuid.NewString(),
		sendBuffer: defaultSendBuffer,
		now:        time.Now,
		sessions:   make(map[uint]map[*Client]struct{}),
		orgLocks:   make(map[uint]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) orgLock(organizationID uint) *sync.Mutex {
	h.locksMu.Lock()
	defer h.locksMu.Unlock()
	l, ok := h.orgLocks[organizationID]
	if !ok {
		l = &sync.Mutex{}
		h.orgLocks[organizationID] = l
	}
	return l
}

// Publish сохраняет событие и по уведомлению на каждого пользователя
// организации в одной транзакции, затем рассылает его живым сессиям.
// Ошибка возвращается только при сбое записи; рассылка вызывающего не роняет.
func (h *Hub) Publish(ctx context.Context, ev *model.Event) error {
	if ev.OrganizationID == 0 {
		return fmt.Errorf("publish %s: organization id is required", ev.Type)
	}

	// события одной организации уходят в порядке записи
	lock := h.orgLock(ev.OrganizationID)
	lock.Lock()
	defer lock.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	if ev.Source == "" {
		ev.Source = model.EventSourceSystem
	}

	err := h.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Events.Append(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		users, err := tx.Users.ListByOrganization(ctx, ev.OrganizationID)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		title, body := notificationText(ev)
		items := make([]model.Notification, 0, len(users))
		for _, u := range users {
			items = append(items, model.Notification{
				UserID:         u.ID,
				OrganizationID: ev.OrganizationID,
				EventID:        ev.ID,
				Type:           ev.Type,
				Title:          title,
				Body:           body,
			})
		}
		if err := tx.Notifications.CreateBatch(ctx, items); err != nil {
			return fmt.Errorf("create notifications: %w", err)
		}
		return nil
	})
	if err != nil {
		h.logger.Error("persist event failed",
			zap.String("type", string(ev.Type)),
			zap.Uint("organization_id", ev.OrganizationID),
			zap.Error(err),
		)
		return err
	}
	h.metrics.EventPublished(string(ev.Type))

	data, err := json.Marshal(envelope{Type: "event", Data: ev})
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return nil
	}
	h.broadcast(ev.OrganizationID, data)

	if h.relay != nil {
		msg := RelayMessage{Origin: h.instanceID, OrganizationID: ev.OrganizationID, Data: data}
		if err := h.relay.Publish(ctx, msg); err != nil {
			h.logger.Warn("relay publish failed", zap.Error(err))
		}
	}
	return nil
}

// Run принимает события других процессов из relay до отмены ctx.
// Без relay просто ждёт ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, func(msg RelayMessage) {
		if msg.Origin == h.instanceID {
			return
		}
		h.broadcast(msg.OrganizationID, msg.Data)
	})
}

func (h *Hub) broadcast(organizationID uint, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.sessions[organizationID] {
		select {
		case c.send <- data:
		default:
			// медленный клиент: закрываем, пусть переподключится
			h.logger.Warn("dropping slow dashboard session",
				zap.String("session_id", c.ID.String()),
				zap.Uint("organization_id", organizationID),
			)
			h.removeLocked(c, true)
		}
	}
}

// Register добавляет сессию в рассылку её организации.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.OrganizationID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[c.OrganizationID] = set
	}
	if _, exists := set[c]; exists {
		return
	}
	set[c] = struct{}{}
	h.metrics.SessionOpened()
}

// Unregister убирает сессию и закрывает её очередь. Повторный вызов безопасен.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, false)
}

func (h *Hub) removeLocked(c *Client, dropped bool) {
	set := h.sessions[c.OrganizationID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.sessions, c.OrganizationID)
	}
	close(c.send)
	h.metrics.SessionClosed(dropped)
}

// sendTo кладёт сообщение в очередь одной сессии, если она ещё открыта.
func (h *Hub) sendTo(c *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[c.OrganizationID][c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SessionCount — число живых сессий организации.
func (h *Hub) SessionCount(organizationID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[organizationID])
}

// Close закрывает все сессии.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.sessions {
		for c := range set {
			h.removeLocked(c, false)
		}
	}
}

var notificationTitles = map[model.EventType]string{
	model.EventTypeAppointmentCreated:   "New appointment",
	model.EventTypeAppointmentConfirmed: "Appointment confirmed",
	model.EventTypeAppointmentCancelled: "Appointment cancelled",
	model.EventTypeServiceChanged:       "Service updated",
	model.EventTypeServiceDeleted:       "Service deleted",
	model.EventTypeSlotsGenerated:       "Slots generated",
	model.EventTypeSlotsDeleted:         "Slots deleted",
	model.EventTypeBotStarted:           "Bot connected",
	model.EventTypeBotStopped:           "Bot disconnected",
	model.EventTypeBotFailed:            "Bot connection failed",
}

func notificationText(ev *model.Event) (string, string) {
	title, ok := notificationTitles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	var body struct {
		Message string `json:"message"`
	}
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &body)
	}
	return title, body.Message
}

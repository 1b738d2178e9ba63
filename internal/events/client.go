package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin проверяет CORS-слой и JWT
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inbound: что присылает дашборд.
type inbound struct {
	Type string `json:"type"`
	// Типы событий из кадра subscribe.
	Events []string        `json:"events,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Client: одна websocket-сессия дашборда.
type Client struct {
	ID             uuid.UUID
	OrganizationID uint
	UserID         uint

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

func newClient(h *Hub, conn *websocket.Conn, organizationID, userID uint) *Client {
	id := uuid.New()
	return &Client{
		ID:             id,
		OrganizationID: organizationID,
		UserID:         userID,
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, h.sendBuffer),
		logger: h.logger.With(
			zap.String("session_id", id.String()),
			zap.Uint("organization_id", organizationID),
			zap.Uint("user_id", userID),
		),
	}
}

// ServeWS поднимает websocket для уже проверенного пользователя и
// обслуживает его до разрыва соединения.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, organizationID, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn, organizationID, userID)
	h.Register(c)
	c.logger.Debug("dashboard session opened")

	if hello, err := json.Marshal(envelope{Type: "connected", Data: map[string]string{"sessionId": c.ID.String()}}); err == nil {
		h.sendTo(c, hello)
	}

	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.logger.Debug("dashboard session closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.logger.Debug("invalid payload", zap.Error(err))
			continue
		}

		switch in.Type {
		case "ping":
			if pong, err := json.Marshal(envelope{Type: "pong"}); err == nil {
				c.hub.sendTo(c, pong)
			}
		case "subscribe":
			// все события организации и так приходят; фильтров пока нет
			c.logger.Debug("subscribe", zap.Strings("events", in.Events), zap.ByteString("data", in.Data))
		default:
			c.logger.Debug("unknown message type", zap.String("type", in.Type))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// хаб закрыл очередь
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

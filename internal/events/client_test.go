package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Leganyst/bookingbot/internal/model"
)

func TestServeWS_PushAndPing(t *testing.T) {
	store := newTestStore(t)
	org, users := seedOrg(t, store, "barber")
	hub := NewHub(store, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, org.ID, users[0].ID)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	hello := read()
	assert.Equal(t, "connected", hello["type"])
	require.Eventually(t, func() bool { return hub.SessionCount(org.ID) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", read()["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "data": map[string]string{"topic": "appointments"}}))

	ev := Build(model.EventTypeAppointmentCancelled, org.ID, model.EventSourceDashboard, map[string]any{"appointmentId": 3})
	require.NoError(t, hub.Publish(context.Background(), ev))

	msg := read()
	assert.Equal(t, "event", msg["type"])
	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ev.ID.String(), data["id"])
	assert.Equal(t, "appointment.cancelled", data["type"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.SessionCount(org.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_SubscribeFrameKeepsSession(t *testing.T) {
	store := newTestStore(t)
	org, users := seedOrg(t, store, "barber")
	core, logs := observer.New(zap.DebugLevel)
	hub := NewHub(store, zap.New(core))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, org.ID, users[0].ID)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, "connected", read()["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "subscribe",
		"events": []string{"appointment.created", "bot.failed"},
	}))
	// кадры читаются по порядку: pong значит, что subscribe уже разобран
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", read()["type"])

	entries := logs.FilterMessage("subscribe").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []any{"appointment.created", "bot.failed"}, entries[0].ContextMap()["events"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.SessionCount(org.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

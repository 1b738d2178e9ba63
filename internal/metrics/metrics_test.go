package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BotStateChanged("", "running")
	m.Admission("admit")
	m.EventPublished("bot.started")
	m.SessionOpened()
	m.SessionClosed(true)
	m.BotAction("command", "ok")
	assert.NotNil(t, m.Handler())
}

func TestBotStateChanged(t *testing.T) {
	m := New()
	m.BotStateChanged("", "starting")
	m.BotStateChanged("starting", "running")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.botConnections.WithLabelValues("starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.botConnections.WithLabelValues("running")))

	m.BotStateChanged("running", "")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.botConnections.WithLabelValues("running")))
}

func TestSessionsAndHandler(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(true)
	m.Admission("overlap")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dashboardSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedSessions))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bookingbot_admissions_total{verdict="overlap"} 1`)
	assert.Contains(t, string(body), "bookingbot_dashboard_sessions 1")
}

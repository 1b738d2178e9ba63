// Package metrics — Prometheus-метрики сервиса. nil *Metrics допустим
// и ничего не пишет.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookingbot"

type Metrics struct {
	registry *prometheus.Registry

	botConnections    *prometheus.GaugeVec
	botActions        *prometheus.CounterVec
	admissions        *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	dashboardSessions prometheus.Gauge
	droppedSessions   prometheus.Counter
}

// New регистрирует все метрики, а также метрики Go и процесса, в новом
// реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		botConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bot_connections",
			Help:      "Bot connections by state.",
		}, []string{"state"}),
		botActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_actions_total",
			Help:      "User actions received from messaging platforms.",
		}, []string{"kind", "result"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Booking admission decisions by verdict.",
		}, []string{"verdict"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events persisted and fanned out.",
		}, []string{"type"}),
		dashboardSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dashboard_sessions",
			Help:      "Open dashboard push sessions.",
		}),
		droppedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_sessions_dropped_total",
			Help:      "Dashboard sessions closed because their buffer was full.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.botConnections,
		m.botActions,
		m.admissions,
		m.eventsPublished,
		m.dashboardSessions,
		m.droppedSessions,
	)
	return m
}

// Handler отдаёт реестр в текстовом формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BotStateChanged переносит подключение из счётчика старого состояния
// в новый. Пустое состояние — подключения нет.
func (m *Metrics) BotStateChanged(from, to string) {
	if m == nil || from == to {
		return
	}
	if from != "" {
		m.botConnections.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.botConnections.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) BotAction(kind, result string) {
	if m == nil {
		return
	}
	m.botActions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Admission(verdict string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(verdict).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.dashboardSessions.Inc()
}

// SessionClosed учитывает закрытую сессию; dropped — медленный клиент.
func (m *Metrics) SessionClosed(dropped bool) {
	if m == nil {
		return
	}
	m.dashboardSessions.Dec()
	if dropped {
		m.droppedSessions.Inc()
	}
}

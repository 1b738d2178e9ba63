// Package httpapi is the dashboard's HTTP surface: login, bot administration,
// services, slots, appointments, the event feed and its websocket.
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Leganyst/bookingbot/internal/auth"
	"github.com/Leganyst/bookingbot/internal/bot"
	"github.com/Leganyst/bookingbot/internal/events"
	"github.com/Leganyst/bookingbot/internal/metrics"
	"github.com/Leganyst/bookingbot/internal/repository"
	"github.com/Leganyst/bookingbot/internal/service"
)

// BotManager: часть bot.Manager, нужная HTTP-слою.
type BotManager interface {
	Activate(ctx context.Context, organizationID uint, credential string) (bot.Status, error)
	Deactivate(ctx context.Context, organizationID uint) error
	Status(organizationID uint) bot.Status
	Dispatch(ctx context.Context, organizationID uint, a bot.Action) error
	OrganizationForBot(botID int64) (uint, bool)
}

type Deps struct {
	Booking *service.BookingService
	Auth    *service.AuthService
	Bots    BotManager
	Hub     *events.Hub
	Store   *repository.Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	CORSOrigins []string
	// Попыток входа в минуту с одного IP.
	LoginPerMinute int
	// Пустой — приём webhook выключен.
	WebhookSecret string
}

type API struct {
	booking *service.BookingService
	auth    *service.AuthService
	bots    BotManager
	hub     *events.Hub
	store   *repository.Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	login         *ipLimiter
	webhookSecret string
}

// NewHandler собирает роутер со всеми маршрутами и middleware:
// CORS → заголовки безопасности → логирование → роутер.
func NewHandler(d Deps) http.Handler {
	a := &API{
		booking:       d.Booking,
		auth:          d.Auth,
		bots:          d.Bots,
		hub:           d.Hub,
		store:         d.Store,
		metrics:       d.Metrics,
		logger:        d.Logger.Named("http"),
		login:         newIPLimiter(d.LoginPerMinute, 3),
		webhookSecret: d.WebhookSecret,
	}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(securityHeaders(logRequests(a.logger, a.routes())))
}

func (a *API) routes() *httprouter.Router {
	r := httprouter.New()
	r.HandleMethodNotAllowed = true

	r.GET("/health", a.health)
	r.Handler(http.MethodGet, "/metrics", a.metrics.Handler())
	r.POST("/auth/login", a.login.limitHandle(a.handleLogin))
	r.GET("/ws", a.authenticate(a.handleWS))

	r.POST("/bot/activate", a.authenticate(a.activateBot))
	r.DELETE("/bot", a.authenticate(a.deactivateBot))
	r.GET("/bot/status/:orgId", a.authenticate(a.botStatus))
	if a.webhookSecret != "" {
		r.POST("/bot/webhook/:botId", a.webhook)
	}

	r.GET("/services", a.authenticate(a.listServices))
	r.POST("/services", a.authenticate(a.createService))
	r.PUT("/services/:id", a.authenticate(a.updateService))
	r.DELETE("/services/:id", a.authenticate(a.deleteService))

	r.POST("/slots/generate", a.authenticate(a.generateSlots))
	r.GET("/slots/expiry/:serviceId", a.authenticate(a.slotExpiry))
	r.DELETE("/slots", a.authenticate(a.deleteSlots))

	r.POST("/appointments", a.authenticate(a.createAppointment))
	r.GET("/appointments", a.authenticate(a.listAppointments))
	r.PUT("/appointments/:id/cancel", a.authenticate(a.cancelAppointment))
	r.PUT("/appointments/:id/confirm", a.authenticate(a.confirmAppointment))

	r.GET("/events", a.authenticate(a.listEvents))
	r.GET("/notifications", a.authenticate(a.listNotifications))
	r.PUT("/notifications/:id/read", a.authenticate(a.markNotificationRead))

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	respondJSON(w, http.StatusOK, M{"status": "ok"})
}

func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// organization выбирает организацию запроса: свою для админа, любую
// указанную для super_admin.
func organization(r *http.Request, requested uint) (uint, error) {
	p := principal(r)
	if p == nil {
		return 0, auth.ErrForbidden
	}
	if requested == 0 {
		if v, err := strconv.ParseUint(r.URL.Query().Get("organizationId"), 10, 64); err == nil {
			requested = uint(v)
		}
	}
	return p.Organization(requested)
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orgID, err := organization(r, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.hub.ServeWS(w, r, orgID, principal(r).UserID)
}

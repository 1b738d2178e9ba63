package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Leganyst/bookingbot/internal/config"
	"github.com/Leganyst/bookingbot/internal/events"
	"github.com/Leganyst/bookingbot/internal/metrics"
	"github.com/Leganyst/bookingbot/internal/model"
)

type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// Status: снимок подключения организации.
type Status struct {
	OrganizationID uint      `json:"organizationId"`
	State          State     `json:"state"`
	Username       string    `json:"username,omitempty"`
	Since          time.Time `json:"since"`
	LastError      string    `json:"lastError,omitempty"`
}

// CredentialStore: где хранятся токены ботов организаций.
type CredentialStore interface {
	ListWithCredential(ctx context.Context) ([]model.Organization, error)
	GetByCredential(ctx context.Context, token string) (*model.Organization, error)
	SetCredential(ctx context.Context, id uint, token, username string) error
	ClearCredential(ctx context.Context, id uint) error
}

type Publisher interface {
	Publish(ctx context.Context, ev *model.Event) error
}

type connection struct {
	organizationID uint
	credential     string
	state          State
	username       string
	since          time.Time
	lastErr        error

	botID   int64
	session Session
	// inbox: действия, принятые не из сессии (webhook); читает только loop.
	inbox  chan Action
	cancel context.CancelFunc
	done   chan struct{}
}

// inboxSize: сколько внешних действий организации ждут обработки.
const inboxSize = 64

// Manager держит не больше одного подключения на организацию.
type Manager struct {
	platform  Platform
	orgs      CredentialStore
	handler   Handler
	publisher Publisher
	cfg       config.BotConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	conns map[uint]*connection

	group singleflight.Group
	wg    sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

type ManagerOption func(*Manager)

func WithManagerMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

func NewManager(
	platform Platform,
	orgs CredentialStore,
	handler Handler,
	publisher Publisher,
	cfg config.BotConfig,
	logger *zap.Logger,
	opts ...ManagerOption,
) *Manager {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.InitConcurrency <= 0 {
		cfg.InitConcurrency = 4
	}
	if cfg.ActionRate <= 0 {
		cfg.ActionRate = 2
	}
	if cfg.ActionBurst <= 0 {
		cfg.ActionBurst = 5
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		platform:   platform,
		orgs:       orgs,
		handler:    handler,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("bot"),
		conns:      make(map[uint]*connection),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func metricState(s State) string {
	if s == StateAbsent {
		return ""
	}
	return string(s)
}

// setStateLocked меняет состояние под m.mu.
func (m *Manager) setStateLocked(c *connection, to State) {
	m.metrics.BotStateChanged(metricState(c.state), metricState(to))
	c.state = to
	c.since = time.Now().UTC()
}

func (m *Manager) publish(t model.EventType, organizationID uint, payload map[string]any) {
	if m.publisher == nil {
		return
	}
	// событие не должно зависеть от отмены запроса, который его вызвал
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.publisher.Publish(ctx, events.Build(t, organizationID, model.EventSourceSystem, payload)); err != nil {
		m.logger.Error("publish bot event", zap.String("type", string(t)), zap.Error(err))
	}
}

// AddConnection поднимает бота организации. Идемпотентна: если этот же
// токен уже работает, ничего не делает. Параллельные вызовы для одной
// организации схлопываются в один старт.
func (m *Manager) AddConnection(ctx context.Context, credential string, organizationID uint) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return fmt.Errorf("%w: empty credential", ErrAuthInvalid)
	}
	if organizationID == 0 {
		return errors.New("organization id is required")
	}

	key := strconv.FormatUint(uint64(organizationID), 10)
	_, err, _ := m.group.Do(key, func() (any, error) {
		return nil, m.addConnection(ctx, credential, organizationID)
	})
	return err
}

func (m *Manager) addConnection(ctx context.Context, credential string, organizationID uint) error {
	log := m.logger.With(zap.Uint("organization_id", organizationID))

	m.mu.Lock()
	if m.baseCtx.Err() != nil {
		m.mu.Unlock()
		return errors.New("manager is shut down")
	}
	if m.credentialTakenLocked(credential, organizationID) {
		m.mu.Unlock()
		return ErrCredentialInUse
	}
	prev := m.conns[organizationID]
	if prev != nil && prev.state == StateRunning && prev.credential == credential {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// другой токен или перезапуск после сбоя: старое подключение гасим
	if prev != nil {
		if err := m.RemoveConnection(ctx, organizationID); err != nil {
			return err
		}
	}

	// проверка и вставка Starting под одной блокировкой: пока мы снимали
	// старое подключение, токен могла занять другая организация
	c := &connection{organizationID: organizationID, credential: credential, state: StateAbsent}
	m.mu.Lock()
	switch {
	case m.baseCtx.Err() != nil:
		m.mu.Unlock()
		return errors.New("manager is shut down")
	case m.credentialTakenLocked(credential, organizationID):
		m.mu.Unlock()
		return ErrCredentialInUse
	case m.conns[organizationID] != nil:
		m.mu.Unlock()
		return fmt.Errorf("connection for organization %d changed while restarting", organizationID)
	}
	m.setStateLocked(c, StateStarting)
	m.conns[organizationID] = c
	m.mu.Unlock()

	ident, sess, err := m.start(ctx, credential, log)
	if err != nil {
		m.fail(c, err)
		return err
	}

	loopCtx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	if m.conns[organizationID] != c || c.state != StateStarting || m.baseCtx.Err() != nil {
		// сняли или остановили менеджер, пока стартовали
		m.mu.Unlock()
		cancel()
		sess.Stop()
		return fmt.Errorf("connection for organization %d removed while starting", organizationID)
	}
	c.session = sess
	c.username = ident.Username
	c.botID = ident.ID
	c.inbox = make(chan Action, inboxSize)
	c.cancel = cancel
	c.done = make(chan struct{})
	m.setStateLocked(c, StateRunning)
	m.wg.Add(1)
	go m.loop(loopCtx, c, sess)
	m.mu.Unlock()

	log.Info("bot started", zap.String("username", ident.Username))
	m.publish(model.EventTypeBotStarted, organizationID, map[string]any{
		"username": ident.Username,
		"message":  "@" + ident.Username + " is online",
	})
	return nil
}

// credentialTakenLocked: токен стартует или работает у другой организации.
func (m *Manager) credentialTakenLocked(credential string, organizationID uint) bool {
	for id, other := range m.conns {
		if id != organizationID && other.credential == credential &&
			(other.state == StateRunning || other.state == StateStarting) {
			return true
		}
	}
	return false
}

// start проверяет токен и открывает сессию. При конфликте опроса гасит
// свою попытку, ждёт ClaimBackoff и пробует ещё ровно один раз.
func (m *Manager) start(ctx context.Context, credential string, log *zap.Logger) (Identity, Session, error) {
	startCtx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
	defer cancel()

	ident, err := m.platform.Identify(startCtx, credential)
	if err != nil {
		return Identity{}, nil, startErr(startCtx, err)
	}

	sess, err := m.platform.Start(startCtx, credential)
	if errors.Is(err, ErrAlreadyClaimed) {
		if sess != nil {
			sess.Stop()
		}
		log.Warn("credential claimed elsewhere, retrying once", zap.Duration("backoff", m.cfg.ClaimBackoff))

		select {
		case <-time.After(m.cfg.ClaimBackoff):
		case <-ctx.Done():
			return Identity{}, nil, ctx.Err()
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
		defer retryCancel()
		sess, err = m.platform.Start(retryCtx, credential)
		if err != nil {
			err = startErr(retryCtx, err)
		}
	} else if err != nil {
		err = startErr(startCtx, err)
	}
	if err != nil {
		if sess != nil {
			sess.Stop()
		}
		return Identity{}, nil, err
	}
	return ident, sess, nil
}

func startErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrAuthInvalid) && !errors.Is(err, ErrAlreadyClaimed) {
		return fmt.Errorf("%w: %v", ErrStartTimeout, err)
	}
	return err
}

// fail переводит подключение в Failed и публикует bot.failed.
func (m *Manager) fail(c *connection, err error) {
	m.mu.Lock()
	if m.conns[c.organizationID] != c || c.state == StateStopping {
		m.mu.Unlock()
		return
	}
	c.lastErr = err
	c.session = nil
	m.setStateLocked(c, StateFailed)
	m.mu.Unlock()

	m.logger.Warn("bot connection failed",
		zap.Uint("organization_id", c.organizationID),
		zap.Error(err),
	)
	m.publish(model.EventTypeBotFailed, c.organizationID, map[string]any{
		"reason":  failureReason(err),
		"error":   err.Error(),
		"message": "Bot connection failed: " + failureReason(err),
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAuthInvalid):
		return "invalid_credential"
	case errors.Is(err, ErrAlreadyClaimed):
		return "claimed_elsewhere"
	case errors.Is(err, ErrStartTimeout):
		return "start_timeout"
	default:
		return "connection_error"
	}
}

// loop: единственный обработчик действий организации. Действия сессии и
// inbox обрабатываются по одному, в порядке получения.
func (m *Manager) loop(ctx context.Context, c *connection, sess Session) {
	defer m.wg.Done()
	defer close(c.done)

	limiters := make(map[int64]*rate.Limiter)
	limiter := func(chatID int64) *rate.Limiter {
		l, ok := limiters[chatID]
		if !ok {
			if len(limiters) > 10000 {
				limiters = make(map[int64]*rate.Limiter)
			}
			l = rate.NewLimiter(rate.Limit(m.cfg.ActionRate), m.cfg.ActionBurst)
			limiters[chatID] = l
		}
		return l
	}

	process := func(a Action) {
		if !limiter(a.ChatID).Allow() {
			m.metrics.BotAction(a.Kind.String(), "dropped")
			return
		}
		m.metrics.BotAction(a.Kind.String(), "handled")
		m.handle(ctx, c.organizationID, a, sess)
	}

	actions := sess.Actions()
	errs := sess.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if ctx.Err() != nil {
				return
			}
			sess.Stop()
			m.fail(c, err)
			m.releaseLoopCtx(c)
			return
		case a, ok := <-actions:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				sess.Stop()
				m.fail(c, errSessionClosed)
				m.releaseLoopCtx(c)
				return
			}
			process(a)
		case a := <-c.inbox:
			process(a)
		}
	}
}

func (m *Manager) releaseLoopCtx(c *connection) {
	m.mu.RLock()
	cancel := c.cancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) handle(ctx context.Context, organizationID uint, a Action, r Replier) {
	if m.handler == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("action handler panicked",
				zap.Uint("organization_id", organizationID),
				zap.Any("panic", p),
			)
		}
	}()
	m.handler.Handle(ctx, organizationID, a, r)
}

// Dispatch ставит внешнее действие (webhook) в очередь цикла организации.
// Не блокирует: при полной очереди возвращает ErrInboxFull.
func (m *Manager) Dispatch(_ context.Context, organizationID uint, a Action) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.conns[organizationID]
	if c == nil || c.state != StateRunning || c.inbox == nil {
		return ErrNotRunning
	}
	select {
	case c.inbox <- a:
		return nil
	default:
		return ErrInboxFull
	}
}

// OrganizationForBot находит работающее подключение по ID бота на платформе.
func (m *Manager) OrganizationForBot(botID int64) (uint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.conns {
		if c.botID == botID && c.state == StateRunning {
			return id, true
		}
	}
	return 0, false
}

// RemoveConnection останавливает бота организации. Отсутствующее
// подключение — no-op.
func (m *Manager) RemoveConnection(ctx context.Context, organizationID uint) error {
	m.mu.Lock()
	c := m.conns[organizationID]
	if c == nil {
		m.mu.Unlock()
		return nil
	}
	wasRunning := c.state == StateRunning
	m.setStateLocked(c, StateStopping)
	sess, cancel, done := c.session, c.cancel, c.done
	c.session = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Stop()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("timed out waiting for bot loop", zap.Uint("organization_id", organizationID))
		}
	}

	m.mu.Lock()
	if m.conns[organizationID] == c {
		delete(m.conns, organizationID)
		m.setStateLocked(c, StateAbsent)
	}
	m.mu.Unlock()

	if wasRunning {
		m.logger.Info("bot stopped", zap.Uint("organization_id", organizationID))
		m.publish(model.EventTypeBotStopped, organizationID, map[string]any{"username": c.username})
	}
	return nil
}

// Initialize поднимает ботов всех организаций с токеном в фоне и сразу
// возвращается. Сбой одной организации только логируется.
func (m *Manager) Initialize(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		orgs, err := m.orgs.ListWithCredential(m.baseCtx)
		if err != nil {
			m.logger.Error("list organizations with bots", zap.Error(err))
			return
		}

		var g errgroup.Group
		g.SetLimit(m.cfg.InitConcurrency)
		for _, org := range orgs {
			if !org.HasCredential() {
				continue
			}
			organizationID, credential := org.ID, *org.BotToken
			g.Go(func() error {
				if err := m.AddConnection(m.baseCtx, credential, organizationID); err != nil {
					m.logger.Warn("initial bot start failed",
						zap.Uint("organization_id", organizationID),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
		m.logger.Info("bot initialization finished", zap.Int("organizations", len(orgs)))
	}()
}

// Activate проверяет и запускает токен и только после успеха сохраняет его.
func (m *Manager) Activate(ctx context.Context, organizationID uint, credential string) (Status, error) {
	credential = strings.TrimSpace(credential)
	owner, err := m.orgs.GetByCredential(ctx, credential)
	if err == nil && owner.ID != organizationID {
		return Status{}, ErrCredentialInUse
	}

	if err := m.AddConnection(ctx, credential, organizationID); err != nil {
		return m.Status(organizationID), err
	}

	st := m.Status(organizationID)
	if err := m.orgs.SetCredential(ctx, organizationID, credential, st.Username); err != nil {
		_ = m.RemoveConnection(ctx, organizationID)
		return m.Status(organizationID), fmt.Errorf("save credential: %w", err)
	}
	return st, nil
}

// Deactivate останавливает бота и забывает токен.
func (m *Manager) Deactivate(ctx context.Context, organizationID uint) error {
	if err := m.RemoveConnection(ctx, organizationID); err != nil {
		return err
	}
	if err := m.orgs.ClearCredential(ctx, organizationID); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (m *Manager) Status(organizationID uint) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked(organizationID)
}

func (m *Manager) statusLocked(organizationID uint) Status {
	c := m.conns[organizationID]
	if c == nil {
		return Status{OrganizationID: organizationID, State: StateAbsent}
	}
	st := Status{
		OrganizationID: organizationID,
		State:          c.state,
		Username:       c.username,
		Since:          c.since,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Statuses: все известные подключения по возрастанию ID организации.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.conns))
	for id := range m.conns {
		out = append(out, m.statusLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out
}

// Shutdown останавливает все подключения и ждёт их циклы.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.baseCancel()

	m.mu.RLock()
	ids := make([]uint, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.RemoveConnection(ctx, id); err != nil {
			m.logger.Warn("stop bot", zap.Uint("organization_id", id), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// ctxClient привязывает запросы библиотеки к контексту сессии:
// tgbotapi сам контекст не принимает, а long poll должен прерываться по Stop.
type ctxClient struct {
	ctx    context.Context
	client *http.Client
}

func (c *ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// TelegramPlatform подключает ботов через Telegram Bot API: long polling
// или, с WithWebhook, приём обновлений по HTTP.
type TelegramPlatform struct {
	endpoint      string
	client        *http.Client
	pollTimeout   int
	webhookURL    string
	webhookSecret string
	logger        *zap.Logger
}

type TelegramOption func(*TelegramPlatform)

// WithEndpoint задаёт шаблон адреса API вида "https://host/bot%s/%s".
func WithEndpoint(endpoint string) TelegramOption {
	return func(p *TelegramPlatform) { p.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) TelegramOption {
	return func(p *TelegramPlatform) { p.client = c }
}

// WithPollTimeout — таймаут long poll в секундах.
func WithPollTimeout(sec int) TelegramOption {
	return func(p *TelegramPlatform) { p.pollTimeout = sec }
}

// WithWebhook: Start регистрирует адрес publicURL/bot/webhook/<id бота>
// и не опрашивает getUpdates. Обновления приходят в Manager.Dispatch.
func WithWebhook(publicURL, secret string) TelegramOption {
	return func(p *TelegramPlatform) {
		p.webhookURL = strings.TrimRight(publicURL, "/")
		p.webhookSecret = secret
	}
}

// WebhookPath — путь, на который Telegram шлёт обновления бота.
func WebhookPath(botID int64) string {
	return "/bot/webhook/" + strconv.FormatInt(botID, 10)
}

func NewTelegramPlatform(logger *zap.Logger, opts ...TelegramOption) *TelegramPlatform {
	p := &TelegramPlatform{
		endpoint:    tgbotapi.APIEndpoint,
		client:      &http.Client{},
		pollTimeout: 30,
		logger:      logger.Named("telegram"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// classify переводит ошибки Bot API в ошибки пакета.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrAuthInvalid, apiErr.Message)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrAlreadyClaimed, apiErr.Message)
		}
	}
	return err
}

func (p *TelegramPlatform) Identify(ctx context.Context, credential string) (Identity, error) {
	api, err := tgbotapi.NewBotAPIWithClient(credential, p.endpoint, &ctxClient{ctx: ctx, client: p.client})
	if err != nil {
		return Identity{}, classify(err)
	}
	return Identity{ID: api.Self.ID, Username: api.Self.UserName}, nil
}

// Start открывает сессию. При опросе возвращается после первого успешного
// getUpdates, то есть когда опрос токена уже за нами; в режиме webhook
// после успешного setWebhook.
func (p *TelegramPlatform) Start(ctx context.Context, credential string) (Session, error) {
	sessCtx, cancel := context.WithCancel(context.Background())
	// пока стартуем, сессия живёт не дольше ctx
	stop := context.AfterFunc(ctx, cancel)
	abort := func(step string, err error) (Session, error) {
		stop()
		cancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", step, ctx.Err())
		}
		return nil, classify(err)
	}

	api, err := tgbotapi.NewBotAPIWithClient(credential, p.endpoint, &ctxClient{ctx: sessCtx, client: p.client})
	if err != nil {
		return abort("get me", err)
	}

	if p.webhookURL != "" {
		_, err = api.MakeRequest("setWebhook", tgbotapi.Params{
			"url":          p.webhookURL + WebhookPath(api.Self.ID),
			"secret_token": p.webhookSecret,
		})
		if err != nil {
			return abort("set webhook", err)
		}
		if !stop() {
			cancel()
			return nil, fmt.Errorf("set webhook: %w", ctx.Err())
		}
		s := p.newSession(sessCtx, cancel, api)
		// опроса нет: действия идут через Dispatch, канал сессии пуст
		close(s.done)
		return s, nil
	}

	first, err := api.GetUpdates(tgbotapi.UpdateConfig{Offset: 0, Limit: 100, Timeout: 0})
	if err != nil {
		return abort("first poll", err)
	}
	if !stop() {
		cancel()
		return nil, fmt.Errorf("first poll: %w", ctx.Err())
	}

	s := p.newSession(sessCtx, cancel, api)
	go s.poll(first)
	return s, nil
}

func (p *TelegramPlatform) newSession(ctx context.Context, cancel context.CancelFunc, api *tgbotapi.BotAPI) *telegramSession {
	return &telegramSession{
		api:         api,
		actions:     make(chan Action, 64),
		errs:        make(chan error, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		pollTimeout: p.pollTimeout,
		logger:      p.logger.With(zap.String("bot", api.Self.UserName)),
	}
}

type telegramSession struct {
	api         *tgbotapi.BotAPI
	actions     chan Action
	errs        chan error
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
	pollTimeout int
	logger      *zap.Logger
}

func (s *telegramSession) Actions() <-chan Action { return s.actions }
func (s *telegramSession) Errors() <-chan error   { return s.errs }

func (s *telegramSession) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *telegramSession) poll(pending []tgbotapi.Update) {
	defer close(s.done)

	offset := 0
	backoff := time.Second
	for {
		for _, u := range pending {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			a, ok := ActionFromUpdate(u)
			if !ok {
				continue
			}
			select {
			case s.actions <- a:
			case <-s.ctx.Done():
				return
			}
		}

		var err error
		pending, err = s.api.GetUpdates(tgbotapi.UpdateConfig{Offset: offset, Limit: 100, Timeout: s.pollTimeout})
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = time.Second
			continue
		}

		err = classify(err)
		if errors.Is(err, ErrAuthInvalid) || errors.Is(err, ErrAlreadyClaimed) {
			s.errs <- err
			return
		}
		s.logger.Warn("getUpdates failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func keyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func (s *telegramSession) Send(ctx context.Context, chatID int64, reply Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrNotRunning
	}

	if reply.CallbackID != "" {
		if _, err := s.api.Request(tgbotapi.NewCallback(reply.CallbackID, "")); err != nil {
			s.logger.Debug("answer callback", zap.Error(err))
		}
	}

	if reply.EditMessageID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, reply.EditMessageID, reply.Text)
		if len(reply.Buttons) > 0 {
			markup := keyboard(reply.Buttons)
			edit.ReplyMarkup = &markup
		}
		_, err := s.api.Send(edit)
		if err != nil && strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return classify(err)
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(reply.Buttons)
	}
	_, err := s.api.Send(msg)
	return classify(err)
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// ActionFromUpdate переводит update Telegram в Action. Неинтересные
// обновления (редактирования, каналы и т.п.) дают false.
func ActionFromUpdate(u tgbotapi.Update) (Action, bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil {
			return Action{}, false
		}
		return Action{
			Kind:       ActionCallback,
			ChatID:     cq.Message.Chat.ID,
			UserName:   displayName(cq.From),
			Data:       cq.Data,
			CallbackID: cq.ID,
			MessageID:  cq.Message.MessageID,
		}, true
	case u.Message != nil && u.Message.Chat != nil:
		m := u.Message
		a := Action{
			ChatID:    m.Chat.ID,
			UserName:  displayName(m.From),
			MessageID: m.MessageID,
		}
		if m.IsCommand() {
			a.Kind = ActionCommand
			a.Text = m.Command()
		} else {
			a.Kind = ActionText
			a.Text = m.Text
		}
		return a, true
	}
	return Action{}, false
}

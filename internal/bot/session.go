// Package bot держит по одному подключению к мессенджеру на организацию
// и ведёт диалог записи в её чатах.
package bot

import (
	"context"
	"errors"
)

var (
	// Платформа отвергла токен (отозван, неверный формат).
	ErrAuthInvalid = errors.New("bot credential rejected by platform")
	// Токен уже опрашивает другой потребитель.
	ErrAlreadyClaimed = errors.New("bot credential is claimed by another consumer")
	// Токен привязан к другой организации.
	ErrCredentialInUse = errors.New("bot credential is bound to another organization")
	ErrStartTimeout    = errors.New("bot start timed out")
	ErrNotRunning      = errors.New("bot is not running")
	// Очередь действий организации переполнена, действие не принято.
	ErrInboxFull     = errors.New("bot inbox is full")
	errSessionClosed = errors.New("platform session closed")
)

// Identity: кем платформа считает бота.
type Identity struct {
	ID       int64
	Username string
}

// Platform: мессенджер, к которому подключаются боты организаций.
type Platform interface {
	// Identify проверяет токен, не начиная приём сообщений.
	Identify(ctx context.Context, credential string) (Identity, error)
	// Start возвращает сессию, готовую принимать действия.
	Start(ctx context.Context, credential string) (Session, error)
}

// Session: живое подключение одного бота.
type Session interface {
	Actions() <-chan Action
	// Errors отдаёт фатальные ошибки; после неё сессия не работает.
	Errors() <-chan error
	Send(ctx context.Context, chatID int64, reply Reply) error
	// Stop идемпотентен.
	Stop()
}

// ActionKind: команда, текст или нажатие кнопки.
type ActionKind int

const (
	ActionCommand ActionKind = iota
	ActionText
	ActionCallback
)

func (k ActionKind) String() string {
	switch k {
	case ActionCommand:
		return "command"
	case ActionText:
		return "text"
	case ActionCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Action: одно действие пользователя в чате.
type Action struct {
	Kind     ActionKind
	ChatID   int64
	UserName string
	// Команда без "/" или текст сообщения.
	Text string
	// Данные нажатой кнопки.
	Data       string
	CallbackID string
	MessageID  int
}

type Button struct {
	Text string
	Data string
}

// Reply: ответ бота. EditMessageID != 0 заменяет существующее сообщение.
type Reply struct {
	Text          string
	Buttons       [][]Button
	EditMessageID int
	// Подтверждение нажатия кнопки.
	CallbackID string
}

// Replier отправляет ответы в чат.
type Replier interface {
	Send(ctx context.Context, chatID int64, reply Reply) error
}

// Handler обрабатывает действия одной организации. Вызывается из цикла
// сессии последовательно.
type Handler interface {
	Handle(ctx context.Context, organizationID uint, a Action, r Replier)
}

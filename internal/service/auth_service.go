package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Leganyst/bookingbot/internal/auth"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// AuthService: вход пользователей дашборда и проверка их токенов.
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.Tokens
	logger *zap.Logger
}

func NewAuthService(users repository.UserRepository, tokens *auth.Tokens, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, logger: logger.Named("auth")}
}

// LoginResult: выданный токен и пользователь.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      *model.User `json:"-"`
}

// Login проверяет пароль и выдаёт JWT. Неизвестный email и неверный пароль
// неразличимы для вызывающего.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	p, err := auth.ValidatePrincipal(ctx, s.users, u.ID)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.tokens.Issue(*p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", zap.Uint("user_id", u.ID), zap.String("role", string(u.Role)))
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// Authenticate разбирает токен и заново проверяет пользователя: отключённый
// админ теряет доступ сразу, не дожидаясь истечения токена.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string) (*auth.Principal, error) {
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, err
	}
	p, err := auth.ValidatePrincipal(ctx, s.users, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, auth.ErrUserNotFound
	}
	return p, err
}

// UserInput: данные нового пользователя дашборда.
type UserInput struct {
	Email          string
	Password       string
	DisplayName    string
	Role           model.Role
	OrganizationID *uint
}

func (s *AuthService) CreateUser(ctx context.Context, in UserInput) (*model.User, error) {
	if strings.TrimSpace(in.Email) == "" || len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: email and a password of at least 8 characters are required", ErrInvalidArgument)
	}
	if in.Role == "" {
		in.Role = model.RoleAdmin
	}
	if in.Role == model.RoleAdmin && in.OrganizationID == nil {
		return nil, fmt.Errorf("%w: admin needs an organization", ErrInvalidArgument)
	}
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		Email:          in.Email,
		PasswordHash:   string(hash),
		DisplayName:    in.DisplayName,
		Role:           in.Role,
		OrganizationID: in.OrganizationID,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

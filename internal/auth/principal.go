// Package auth проверяет пользователей дашборда и привязывает запросы
// к организации.
package auth

import (
	"context"
	"errors"

	"github.com/Leganyst/bookingbot/internal/model"
)

// Ошибки валидации пользователя дашборда.
var (
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrUserNotFound   = errors.New("user not found")
	ErrUserInactive   = errors.New("user is inactive")
	ErrForbidden      = errors.New("forbidden for this organization")
	ErrNoOrganization = errors.New("organization is required")
)

// Principal: проверенный пользователь дашборда.
type Principal struct {
	UserID         uint
	OrganizationID uint // 0 у super_admin без организации
	Role           model.Role
}

func (p Principal) IsSuperAdmin() bool {
	return p.Role == model.RoleSuperAdmin
}

// CanAct: может ли принципал действовать от имени организации.
func (p Principal) CanAct(organizationID uint) bool {
	if organizationID == 0 {
		return false
	}
	return p.IsSuperAdmin() || p.OrganizationID == organizationID
}

// Organization определяет, с какой организацией работает запрос.
// requested == 0 — своя организация. Админ чужую получить не может,
// super_admin: любую.
func (p Principal) Organization(requested uint) (uint, error) {
	if requested == 0 {
		if p.OrganizationID == 0 {
			return 0, ErrNoOrganization
		}
		return p.OrganizationID, nil
	}
	if !p.CanAct(requested) {
		return 0, ErrForbidden
	}
	return requested, nil
}

// Источник данных о пользователях.
type UserStore interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

// ValidatePrincipal:
//   - проверяет идентификатор;
//   - достаёт пользователя из хранилища;
//   - проверяет, что он активен и у админа есть организация.
func ValidatePrincipal(ctx context.Context, store UserStore, userID uint) (*Principal, error) {
	if userID == 0 {
		return nil, ErrInvalidUserID
	}

	u, err := store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}

	p := &Principal{UserID: u.ID, Role: u.Role}
	if u.OrganizationID != nil {
		p.OrganizationID = *u.OrganizationID
	}
	if p.Role != model.RoleSuperAdmin && p.OrganizationID == 0 {
		return nil, ErrNoOrganization
	}
	return p, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext возвращает принципала, положенного middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Package control — управление ботами по gRPC для операторов
// и служебных утилит.
package control

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Leganyst/bookingbot/internal/auth"
	"github.com/Leganyst/bookingbot/internal/bot"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/service"
)

// BotManager: часть bot.Manager, которой пользуется сервис.
type BotManager interface {
	Activate(ctx context.Context, organizationID uint, credential string) (bot.Status, error)
	Deactivate(ctx context.Context, organizationID uint) error
	Status(organizationID uint) bot.Status
}

type SlotGenerator interface {
	GenerateSlots(ctx context.Context, req service.GenerateRequest) (int, error)
}

// Authenticator проверяет bearer-токен из метаданных.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*auth.Principal, error)
}

// ControlService реализует bookingbot.control.v1.BotControl.
type ControlService struct {
	bots   BotManager
	slots  SlotGenerator
	logger *zap.Logger
}

func NewControlService(bots BotManager, slots SlotGenerator, logger *zap.Logger) *ControlService {
	return &ControlService{bots: bots, slots: slots, logger: logger.Named("control")}
}

// organization достаёт организацию запроса с учётом прав принципала.
func organization(ctx context.Context, requested int64) (uint, error) {
	if requested < 0 {
		return 0, status.Error(codes.InvalidArgument, "organization_id must be positive")
	}
	p, ok := auth.FromContext(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "missing credentials")
	}
	id, err := p.Organization(uint(requested))
	switch {
	case errors.Is(err, auth.ErrNoOrganization):
		return 0, status.Error(codes.InvalidArgument, "organization_id is required")
	case errors.Is(err, auth.ErrForbidden):
		return 0, status.Error(codes.PermissionDenied, "organization is not accessible")
	case err != nil:
		return 0, status.Errorf(codes.Internal, "resolve organization: %v", err)
	}
	return id, nil
}

func number(s *structpb.Struct, key string) int64 {
	if s == nil {
		return 0
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return 0
	}
	return int64(v.GetNumberValue())
}

func text(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func statusStruct(st bot.Status) (*structpb.Struct, error) {
	fields := map[string]any{
		"organization_id": float64(st.OrganizationID),
		"state":           string(st.State),
		"username":        st.Username,
		"last_error":      st.LastError,
	}
	if !st.Since.IsZero() {
		fields["since"] = st.Since.UTC().Format(time.RFC3339)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func botError(err error, what string) error {
	switch {
	case errors.Is(err, bot.ErrAuthInvalid):
		return status.Error(codes.InvalidArgument, "credential rejected by platform")
	case errors.Is(err, bot.ErrCredentialInUse):
		return status.Error(codes.AlreadyExists, "credential is bound to another organization")
	case errors.Is(err, bot.ErrAlreadyClaimed):
		return status.Error(codes.FailedPrecondition, "credential is used by another consumer")
	case errors.Is(err, bot.ErrStartTimeout):
		return status.Error(codes.DeadlineExceeded, "bot start timed out")
	default:
		return status.Errorf(codes.Internal, "%s: %v", what, err)
	}
}

// Activate привязывает токен к организации и поднимает бота.
func (s *ControlService) Activate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	credential := strings.TrimSpace(text(req, "credential"))
	if credential == "" {
		return nil, status.Error(codes.InvalidArgument, "credential is required")
	}
	orgID, err := organization(ctx, number(req, "organization_id"))
	if err != nil {
		return nil, err
	}

	st, err := s.bots.Activate(ctx, orgID, credential)
	if err != nil {
		s.logger.Warn("activate bot", zap.Uint("organization_id", orgID), zap.Error(err))
		return nil, botError(err, "activate bot")
	}
	return statusStruct(st)
}

func (s *ControlService) Deactivate(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	orgID, err := organization(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.bots.Deactivate(ctx, orgID); err != nil {
		return nil, botError(err, "deactivate bot")
	}
	return &emptypb.Empty{}, nil
}

func (s *ControlService) Status(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	orgID, err := organization(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}
	return statusStruct(s.bots.Status(orgID))
}

// GenerateSlots: {organization_id, service_id, horizon_days?, capacity?}.
func (s *ControlService) GenerateSlots(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {
	serviceID := number(req, "service_id")
	if serviceID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "service_id is required")
	}
	orgID, err := organization(ctx, number(req, "organization_id"))
	if err != nil {
		return nil, err
	}

	created, err := s.slots.GenerateSlots(ctx, service.GenerateRequest{
		OrganizationID: orgID,
		ServiceID:      uint(serviceID),
		HorizonDays:    int(number(req, "horizon_days")),
		Capacity:       int(number(req, "capacity")),
		Source:         model.EventSourceControl,
	})
	switch {
	case errors.Is(err, service.ErrOrganizationNotFound), errors.Is(err, service.ErrServiceNotFound):
		return nil, status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrNoWorkingHours), errors.Is(err, service.ErrInvalidArgument):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, status.Errorf(codes.Internal, "generate slots: %v", err)
	}
	return wrapperspb.Int64(int64(created)), nil
}

// AuthInterceptor кладёт принципала из "authorization: Bearer ..." в контекст.
func AuthInterceptor(authn Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var raw string
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw = strings.TrimSpace(strings.TrimPrefix(vals[0], "Bearer "))
		}
		if raw == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		p, err := authn.Authenticate(ctx, raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

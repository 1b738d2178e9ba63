package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Сообщения — well-known типы protobuf, поэтому дескриптор описан
// вручную, без protoc.
const serviceName = "bookingbot.control.v1.BotControl"

type BotControlServer interface {
	Activate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deactivate(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	Status(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	GenerateSlots(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
}

var _ BotControlServer = (*ControlService)(nil)

func RegisterBotControlServer(s grpc.ServiceRegistrar, srv BotControlServer) {
	s.RegisterService(&BotControl_ServiceDesc, srv)
}

// unary собирает обработчик метода по образцу сгенерированного кода.
func unary[Req any, Resp any](method string, call func(BotControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BotControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BotControlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var BotControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BotControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Activate", BotControlServer.Activate),
		unary("Deactivate", BotControlServer.Deactivate),
		unary("Status", BotControlServer.Status),
		unary("GenerateSlots", BotControlServer.GenerateSlots),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bookingbot/control/v1/control.proto",
}

// BotControlClient: клиент для CLI и тестов.
type BotControlClient struct {
	cc grpc.ClientConnInterface
}

func NewBotControlClient(cc grpc.ClientConnInterface) *BotControlClient {
	return &BotControlClient{cc: cc}
}

func (c *BotControlClient) Activate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Activate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BotControlClient) Deactivate(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Deactivate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BotControlClient) Status(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Status", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BotControlClient) GenerateSlots(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GenerateSlots", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

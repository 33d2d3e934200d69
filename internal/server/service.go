package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/roomguard/internal/api"
)

// GuardServer is the server side of roomguard.v1.Guard.
type GuardServer interface {
	Observe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transcript(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EscalateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(GuardServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GuardServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(GuardServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes roomguard.v1.Guard for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*GuardServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(api.MethodObserve, GuardServer.Observe),
		unary(api.MethodTranscript, GuardServer.Transcript),
		unary(api.MethodStartSession, GuardServer.StartSession),
		unary(api.MethodCancelSession, GuardServer.CancelSession),
		unary(api.MethodEscalateSession, GuardServer.EscalateSession),
		unary(api.MethodListSessions, GuardServer.ListSessions),
		unary(api.MethodGetProfile, GuardServer.GetProfile),
		unary(api.MethodSetMode, GuardServer.SetMode),
	},
	Metadata: "roomguard/v1/guard.proto",
}

// Package server exposes the guard over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/roomguard/internal/api"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/trust"
)

// Server implements roomguard.v1.Guard over a *guard.Guard.
type Server struct {
	guard      *guard.Guard
	logger     *zap.Logger
	now        func() time.Time
	health     *health.Server
	grpcServer *grpc.Server
}

// New creates a gRPC server for g with the standard health service.
func New(g *guard.Guard, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		guard:  g,
		logger: logger.Named("server"),
		now:    time.Now,
		health: health.NewServer(),
	}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve listens on addr. Blocks until stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop marks the service as not serving and drains RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start))}
	if err != nil {
		s.logger.Warn("rpc failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("rpc", fields...)
	}
	return resp, err
}

// Observe implements the Observe RPC.
func (s *Server) Observe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ObserveRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.guard.HandleObservation(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(out)
}

// Transcript implements the Transcript RPC.
func (s *Server) Transcript(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.TranscriptRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	return reply(api.TranscriptResponse{Dropped: s.guard.Transcript(req.Slot, req.Text)})
}

// StartSession implements the StartSession RPC.
func (s *Server) StartSession(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.StartSessionRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h, err := s.guard.StartSession(req.Slot, req.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(api.SessionResponse{Session: h.Session()})
}

// CancelSession implements the CancelSession RPC.
func (s *Server) CancelSession(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.CancelSessionRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Slot == "" {
		return nil, status.Error(codes.InvalidArgument, "slot is required")
	}
	return reply(api.CancelSessionResponse{Cancelled: s.guard.CancelSession(req.Slot, req.Reason)})
}

// EscalateSession implements the EscalateSession RPC.
func (s *Server) EscalateSession(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.EscalateSessionRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Slot == "" {
		return nil, status.Error(codes.InvalidArgument, "slot is required")
	}
	if err := s.guard.EscalateSession(req.Slot, req.Reason); err != nil {
		return nil, toStatus(err)
	}
	return reply(api.EscalateSessionResponse{Escalated: true})
}

// ListSessions implements the ListSessions RPC.
func (s *Server) ListSessions(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(api.ListSessionsResponse{Active: s.guard.Active(), Sessions: s.guard.Sessions()})
}

// GetProfile implements the GetProfile RPC.
func (s *Server) GetProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.GetProfileRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	engine := s.guard.Engine()
	if req.Identity == "" {
		all, err := engine.Summaries(ctx, s.now())
		if err != nil {
			return nil, toStatus(err)
		}
		return reply(api.GetProfileResponse{Profiles: all})
	}
	one, err := engine.Summary(ctx, req.Identity, s.now())
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(api.GetProfileResponse{Profiles: []trust.Summary{one}})
}

// SetMode implements the SetMode RPC.
func (s *Server) SetMode(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.SetModeRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	n := s.guard.SetActive(req.Active)
	return reply(api.SetModeResponse{Active: s.guard.Active(), Cancelled: n})
}

func reply(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, trust.ErrInvalidObservation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, trust.ErrUnknownIdentity), errors.Is(err, trust.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, conversation.ErrSessionConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, conversation.ErrNoSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, escalation.ErrMaxLevel), errors.Is(err, conversation.ErrEscalationPending):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, conversation.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Package grpcserver exposes read access to the reconciler over gRPC.
//
// There is no generated stub: the service is declared by hand and carries
// google.protobuf.Struct messages, so the Gateway can forward the same JSON
// shapes the HTTP API returns. It delegates all business logic to
// reconciler.Service and handles only transport concerns: metadata
// extraction, error mapping and message conversion.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"offerwall/reconciler-service/internal/candidates"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/reconciler"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "reconciler.v1.Reconciler"

// ReconcilerServer is the hand-declared service interface.
type ReconcilerServer interface {
	GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Server implements ReconcilerServer.
type Server struct {
	svc *reconciler.Service
}

// NewServer constructs a gRPC Server backed by the given reconciler.Service.
func NewServer(svc *reconciler.Service) *Server {
	return &Server{svc: svc}
}

// Register mounts the reconciler and health services on gs. The returned
// health server starts as NOT_SERVING; see WatchHealth.
func Register(gs *grpc.Server, srv ReconcilerServer) *health.Server {
	gs.RegisterService(&serviceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// WatchHealth mirrors live() into the health server every interval until ctx
// is done.
func WatchHealth(ctx context.Context, hs *health.Server, live func() bool, interval time.Duration) {
	set := func() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if live() {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(ServiceName, st)
		hs.SetServingStatus("", st)
	}
	set()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			set()
		}
	}
}

// ─── RPC implementations ─────────────────────────────────────────────────────

// GetState returns the caller's current check with per-offer status.
func (s *Server) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := sessionFromCtx(ctx, req)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.State(ctx, session)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(reconciler.NewView(snap))
}

// ListJobs returns notification jobs, newest first.
func (s *Server) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	perPage := 0
	if v, ok := req.GetFields()["perPage"]; ok {
		perPage = int(v.GetNumberValue())
	}
	jobs, err := s.svc.ListJobs(ctx, perPage)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"jobs": jobs})
}

// ─── Service descriptor ──────────────────────────────────────────────────────

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconcilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetState", Handler: unary("GetState", ReconcilerServer.GetState)},
		{MethodName: "ListJobs", Handler: unary("ListJobs", ReconcilerServer.ListJobs)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reconciler/v1/reconciler.proto",
}

type structMethod func(ReconcilerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReconcilerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReconcilerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// sessionFromCtx reads the x-session-id metadata forwarded by the Gateway,
// falling back to a sessionId field in the request.
func sessionFromCtx(ctx context.Context, req *structpb.Struct) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-session-id"); len(vals) > 0 && vals[0] != "" {
			return vals[0], nil
		}
	}
	if v := req.GetFields()["sessionId"].GetStringValue(); v != "" {
		return v, nil
	}
	return "", status.Error(codes.Unauthenticated, "missing x-session-id metadata")
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	if errors.Is(err, reconciler.ErrNoCheck) || errors.Is(err, jobstore.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	var ie *candidates.InputError
	if errors.As(err, &ie) {
		return status.Error(codes.InvalidArgument, ie.Msg)
	}
	slog.Error("grpc request failed", "err", err)
	return status.Error(codes.Internal, "internal server error")
}

// toStruct converts any JSON-serialisable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

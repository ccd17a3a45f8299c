// Package health serves the gRPC health protocol for the visibility
// widget, mapping its lifecycle state onto serving statuses.
package health

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/model"
)

// ServiceName is the health service name reported for the radar widget.
const ServiceName = "skywatch.Radar"

const requestIDMetadataKey = "x-request-id"

// StateSource is the widget whose state is reported. *radar.Engine
// implements it.
type StateSource interface {
	State() model.WidgetState
	SubscribeState(fn func(from, to model.WidgetState)) (unsubscribe func())
}

// StatusFor maps a widget state onto a health status.
func StatusFor(state model.WidgetState) healthpb.HealthCheckResponse_ServingStatus {
	switch state {
	case model.StateActive:
		return healthpb.HealthCheckResponse_SERVING
	case model.StateTerminated:
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// Server is a gRPC server carrying the health and reflection services.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	src    StateSource
	log    logging.Logger
	unsub  func()
}

// NewServer builds the server and starts tracking src. collector may be nil.
func NewServer(src StateSource, collector *observability.VisibilityCollector, log logging.Logger) *Server {
	log = logging.OrNoop(log)
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			collector.StreamServerInterceptor(),
		),
	)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, src: src, log: log}
	s.unsub = src.SubscribeState(func(_, _ model.WidgetState) { s.sync() })
	s.sync()
	return s
}

// sync reads the state fresh so that late notifications never regress it.
func (s *Server) sync() {
	state := s.src.State()
	status := StatusFor(state)
	s.health.SetServingStatus(ServiceName, status)
	s.log.Debug(context.Background(), "health status updated",
		logging.String("service", ServiceName),
		logging.String("state", state.String()),
		logging.String("status", status.String()),
	)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "starting gRPC health server", logging.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop stops tracking the widget and drains in-flight RPCs.
func (s *Server) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
	s.grpc.GracefulStop()
}

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}
		ctx, _ = logging.EnsureRequestID(ctx)
		base.Debug(ctx, "grpc request", logging.String("method", info.FullMethod))
		return handler(ctx, req)
	}
}

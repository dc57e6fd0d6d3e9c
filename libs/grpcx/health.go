package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is a gRPC server exposing only the standard health service.
// Probes from the mesh use it; business traffic goes over HTTP.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{srv: srv, health: hs, logger: logger}
}

// SetServing flips the overall and per-service status.
func (s *HealthServer) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	if service != "" {
		s.health.SetServingStatus(service, st)
	}
}

// WatchReady polls check and mirrors the result into the health status until
// ctx is done.
func (s *HealthServer) WatchReady(ctx context.Context, service string, every time.Duration, check func(context.Context) error) {
	if every <= 0 {
		every = 5 * time.Second
	}
	probe := func() {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		s.SetServing(service, check(cctx) == nil)
	}
	probe()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("grpc health server starting", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

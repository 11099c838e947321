package backend

import (
	"context"
	"net"

	"LiveDet/logger"
	"LiveDet/session"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name that tracks the detection loop.
const ServiceName = "livedet.Session"

// HealthObserver reports SERVING while the loop is scheduled.
type HealthObserver struct {
	session.NopObserver
	srv *health.Server
}

func NewHealth() (*health.Server, *HealthObserver) {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs, &HealthObserver{srv: hs}
}

func (h *HealthObserver) OnState(s session.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.Active() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(ServiceName, status)
}

func countUnary(total prometheus.Counter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		total.Inc()
		return handler(ctx, req)
	}
}

func countStream(total prometheus.Counter) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		total.Inc()
		return handler(srv, ss)
	}
}

// StartGRPCServer serves the health service on lis. total, when set,
// counts every RPC.
func StartGRPCServer(lis net.Listener, hs *health.Server, total prometheus.Counter) *grpc.Server {
	var opts []grpc.ServerOption
	if total != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(countUnary(total)),
			grpc.ChainStreamInterceptor(countStream(total)))
	}
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, hs)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s
}

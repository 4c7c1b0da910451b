// Package grpcapi serves the gRPC health protocol so orchestrators can
// check the service with standard tooling.
package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-interview-voice-service/internal/observability"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
)

// ConversationService is the health name of the conversation API.
const ConversationService = "ai.interview.voice.ConversationService"

// ReadinessFunc reports whether the service can take conversations.
type ReadinessFunc func(ctx context.Context) error

// Server is the gRPC server with health and reflection registered.
type Server struct {
	*grpc.Server
	health *health.Server
	ready  ReadinessFunc
}

// NewServer registers the health service. Both the overall and the
// conversation status start as NOT_SERVING until SetServing is called.
func NewServer(m *metrics.Metrics, ready ReadinessFunc) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(g, h)
	reflection.Register(g)

	s := &Server{Server: g, health: h, ready: ready}
	s.SetServing(false)
	return s
}

// SetServing flips every registered status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ConversationService, st)
}

// Watch re-evaluates readiness every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	log := logging.WithComponent("grpc-health")
	check := func() {
		if s.ready == nil {
			s.SetServing(true)
			return
		}
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := s.ready(cctx)
		if err != nil {
			log.Warn().Err(err).Msg("Service not ready")
		}
		s.SetServing(err == nil)
	}

	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}

// Stop marks the service down and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}

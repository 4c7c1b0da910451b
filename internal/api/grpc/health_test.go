package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"ai-interview-voice-service/internal/observability/metrics"
)

func dial(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestServer_SetServing(t *testing.T) {
	s := NewServer(metrics.NewMetrics(prometheus.NewRegistry()), nil)
	c := dial(t, s)

	for _, svc := range []string{"", ConversationService} {
		if got := status(t, c, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("initial %q = %v", svc, got)
		}
	}

	s.SetServing(true)
	for _, svc := range []string{"", ConversationService} {
		if got := status(t, c, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("%q = %v", svc, got)
		}
	}
}

func TestServer_WatchFollowsReadiness(t *testing.T) {
	var failing atomic.Bool
	ready := func(context.Context) error {
		if failing.Load() {
			return errors.New("database unreachable")
		}
		return nil
	}
	s := NewServer(metrics.NewMetrics(prometheus.NewRegistry()), ready)
	c := dial(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, 10*time.Millisecond)

	waitStatus := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if status(t, c, ConversationService) == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("status never became %v", want)
	}

	waitStatus(healthpb.HealthCheckResponse_SERVING)
	failing.Store(true)
	waitStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	failing.Store(false)
	waitStatus(healthpb.HealthCheckResponse_SERVING)
}

package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/stream"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, h *GRPCHealth) healthpb.HealthClient {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	h.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func waitStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if checkStatus(t, client, QueryServiceName) == want && checkStatus(t, client, "") == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health status never became %s", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGRPCHealthFollowsPublishedGenerations(t *testing.T) {
	store := dataset.NewStore()
	events := stream.New()
	h := NewGRPCHealth(store)
	client := startBufGRPC(t, h)

	if got := checkStatus(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("empty store should not serve, got %s", got)
	}
	if got := checkStatus(t, client, QueryServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("empty store should not serve %s, got %s", QueryServiceName, got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Follow(ctx, events)
	}()

	publishFixture(store)
	events.Publish(stream.Event{Type: stream.EventPublished, Generation: store.Current().ID()})
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestGRPCHealthReadyStoreAndUnknownService(t *testing.T) {
	store := dataset.NewStore()
	publishFixture(store)
	client := startBufGRPC(t, NewGRPCHealth(store))

	if got := checkStatus(t, client, QueryServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("published store should serve, got %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "other.Service"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown service, got %v", err)
	}
}

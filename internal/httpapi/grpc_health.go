package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/obs"
	"hemicycle.org/internal/stream"
)

// QueryServiceName is the service name reported by the gRPC health server
// alongside the overall ("") status.
const QueryServiceName = "hemicycle.v1.Query"

// GRPCHealth reports dataset readiness over the standard gRPC health
// protocol. Both statuses stay NOT_SERVING until a generation is published.
type GRPCHealth struct {
	srv   *health.Server
	store *dataset.Store
}

// NewGRPCHealth returns a health server reflecting the current store state.
func NewGRPCHealth(store *dataset.Store) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), store: store}
	h.Sync()
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Sync copies the store state into the serving status.
func (h *GRPCHealth) Sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.store.State() == dataset.StateReady {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(QueryServiceName, status)
}

// Follow re-syncs on every published generation until ctx ends, then marks
// everything NOT_SERVING so clients drain before the listener closes.
func (h *GRPCHealth) Follow(ctx context.Context, events *stream.Stream) {
	logger := obs.Component("grpc")
	for evt := range events.Subscribe(ctx) {
		if evt.Type != stream.EventPublished {
			continue
		}
		h.Sync()
		logger.Debug("health synced", "generation", evt.Generation, "state", string(h.store.State()))
	}
	h.srv.Shutdown()
}

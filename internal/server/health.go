package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GatewayServiceName is the health-check service name reported for the
// session gateway.
const GatewayServiceName = "sus.Gateway"

// HealthService serves the standard grpc.health.v1.Health API so that
// orchestrators can probe the game server.
type HealthService struct {
	addr   string
	logger *zap.Logger
	server *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewHealthService creates a HealthService that will listen on addr.
//
// Precondition: addr must be a "host:port" string; logger must be non-nil.
// Postcondition: Returns a HealthService reporting NOT_SERVING until Start is called.
func NewHealthService(addr string, logger *zap.Logger) *HealthService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(GatewayServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthService{
		addr:   addr,
		logger: logger,
		server: srv,
		health: hs,
	}
}

// Start listens on the configured address and serves until Stop is called.
//
// Postcondition: Both the overall and gateway statuses are SERVING while Start runs.
func (h *HealthService) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = lis
	h.mu.Unlock()

	h.SetServing(true)
	h.logger.Info("gRPC health service listening", zap.String("addr", lis.Addr().String()))
	return h.server.Serve(lis)
}

// SetServing flips the reported status of every registered service.
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(GatewayServiceName, status)
}

// Stop reports NOT_SERVING and drains in-flight RPCs. If ctx expires first the
// server is stopped forcefully and ctx's error is returned.
func (h *HealthService) Stop(ctx context.Context) error {
	h.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		h.server.Stop()
		return ctx.Err()
	}
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (h *HealthService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return ""
}

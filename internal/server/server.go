package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var log = slog.Default()

// ServiceName is the health service name reported while a dispatch runs.
const ServiceName = "slotdispatch"

// HealthServer exposes the standard gRPC health protocol so supervisors can
// tell whether a dispatch call is in progress.
//
// The overall ("") service is SERVING for as long as the process listens;
// ServiceName flips between SERVING and NOT_SERVING via SetServing.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server

	mu      sync.Mutex
	serving bool
}

// NewHealthServer creates a server with ServiceName NOT_SERVING.
func NewHealthServer() *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	return &HealthServer{
		grpcServer: s,
		health:     hs,
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	log.Info("Health server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Listen opens a TCP listener on port and serves on it in the background.
func (s *HealthServer) Listen(port int) (net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			log.Warn("Health server stopped", "error", err)
		}
	}()
	return lis.Addr(), nil
}

// SetServing updates the status of ServiceName.
func (s *HealthServer) SetServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving == serving {
		return
	}
	s.serving = serving

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	log.Debug("Health status changed", "service", ServiceName, "status", status.String())
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

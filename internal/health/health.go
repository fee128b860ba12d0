// Package health serves the standard gRPC health-checking protocol
// (google.golang.org/grpc/health, grpc_health_v1) on GRPC_HOST:GRPC_PORT.
package health

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is registered as the overall adapter's health check target.
// An empty service name (grpc_health_v1's convention for "the whole server")
// is also kept serving so generic health probes that don't know the name
// still work.
const ServiceName = "draco_adapter"

// Server wraps a grpc.Server exposing the health service and its backing
// health.Server, so callers can flip the reported status as the runtime's
// lifecycle state changes.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// New binds a gRPC server on host:port and registers the health service,
// starting in NOT_SERVING until SetServing is called.
func New(host string, port int) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health: listen on %s: %w", addr, err)
	}

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpcServer: gs, health: hs, listener: lis}, nil
}

// Addr returns the listener's bound address, useful when port 0 was
// requested (tests).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks accepting connections until Stop is called or the listener
// fails.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// SetServing marks the adapter healthy or unhealthy. Called by the runtime
// lifecycle as it transitions between Running and ShuttingDown/Stopped.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Stop gracefully stops the gRPC server, marking every service
// NOT_SERVING first so in-flight checks observe the shutdown.
func (s *Server) Stop(_ context.Context) {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

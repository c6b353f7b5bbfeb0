// Package handler implements grpc.health.v1.Health for readiness and liveness probes.
package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Pinger reports whether a dependency is reachable (e.g. the authority repository or a device's transport).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// PolicyChecker reports whether the policy engine can evaluate (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements the standard gRPC health service. The empty service name and
// ServiceName report the same readiness; other names are NotFound.
type Server struct {
	healthpb.UnimplementedHealthServer

	serviceName   string
	pinger        Pinger
	policyChecker PolicyChecker
}

// NewServer returns a health server. Either check may be nil and is then skipped.
func NewServer(serviceName string, pinger Pinger, policyChecker PolicyChecker) *Server {
	return &Server{serviceName: serviceName, pinger: pinger, policyChecker: policyChecker}
}

// Check runs the configured checks. A failing check is NOT_SERVING, never a gRPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != s.serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			return notServing(), nil
		}
	}
	if s.policyChecker != nil {
		if err := s.policyChecker.HealthCheck(ctx); err != nil {
			return notServing(), nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func notServing() *healthpb.HealthCheckResponse {
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
}

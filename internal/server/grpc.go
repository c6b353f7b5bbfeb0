// Package server builds and runs the gRPC server of every ied-sentinel process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthhandler "ied-sentinel/internal/health/handler"
	"ied-sentinel/internal/server/interceptors"
)

// healthCheckMethod is not logged at debug level; probes call it constantly.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the dependencies of the registered services.
type Deps struct {
	// ServiceName is the name the health service answers for besides "".
	ServiceName string
	// HealthPinger is used for readiness (e.g. the authority repository or a device's ready signal). If nil, the check is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used for readiness (e.g. OPA evaluator). If nil, the check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	// Reflection registers the server reflection service (development only).
	Reflection bool
}

// NewGRPCServer returns a server with OTel stats and request logging.
func NewGRPCServer(log logrus.FieldLogger) *grpc.Server {
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(log, map[string]bool{healthCheckMethod: true})),
	)
}

// RegisterServices registers the health service and, when asked, reflection.
func RegisterServices(s *grpc.Server, deps Deps) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.ServiceName, deps.HealthPinger, deps.HealthPolicyChecker))
	if deps.Reflection {
		reflection.Register(s)
	}
}

// Serve listens on addr and serves until ctx is done, then stops gracefully.
func Serve(ctx context.Context, addr string, s *grpc.Server, log logrus.FieldLogger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return ServeListener(ctx, lis, s, log)
}

// ServeListener is Serve on an existing listener. The listener is closed on return.
func ServeListener(ctx context.Context, lis net.Listener, s *grpc.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", lis.Addr().String()).Info("grpc: server listening")
		errCh <- s.Serve(lis)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("grpc: shutting down")
		s.GracefulStop()
		<-errCh
		return nil
	}
}

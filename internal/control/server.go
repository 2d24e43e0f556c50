// Package control serves gRPC health and reflection for a running
// experiment, so orchestrators can poll whether a build succeeded and how a
// run ended.
package control

import (
	"context"
	"net"
	"sync"

	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/internal/scenario"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ExperimentService is the health service name that tracks the experiment.
// The empty service name reports the process itself.
const ExperimentService = "handover.v1.Experiment"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = logging.OrNoop(l) }
}

// WithMetrics records RPC counts and durations on c.
func WithMetrics(c *observability.ExperimentCollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithRunID tags every RPC log line with the experiment's run_id.
func WithRunID(id string) Option {
	return func(s *Server) { s.runID = id }
}

// Server is the experiment control endpoint.
type Server struct {
	log     logging.Logger
	metrics *observability.ExperimentCollector
	runID   string

	grpc   *grpc.Server
	health *health.Server

	mu      sync.RWMutex
	phase   scenario.Phase
	outcome *status.Status
}

// New builds a server with health and reflection registered. The experiment
// reports NOT_SERVING until a build succeeds.
func New(opts ...Option) *Server {
	s := &Server{log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}

	s.health = health.NewServer()
	s.grpc = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(s.log, s.runID),
			TracingUnaryServerInterceptor(),
			s.metrics.UnaryServerInterceptor(),
			s.experimentStatusInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus(ExperimentService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "control server listening", logging.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// ObservePhase tracks the driver's lifecycle. Pass it to
// scenario.WithPhaseListener.
func (s *Server) ObservePhase(p scenario.Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()

	switch p {
	case scenario.PhaseBuilt, scenario.PhaseRunning, scenario.PhaseFinished:
		s.health.SetServingStatus(ExperimentService, healthpb.HealthCheckResponse_SERVING)
	case scenario.PhaseIdle, scenario.PhaseBuilding, scenario.PhaseFailed:
		s.health.SetServingStatus(ExperimentService, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Phase returns the last observed driver phase.
func (s *Server) Phase() scenario.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Finish records how the experiment ended. Subsequent RPCs carry the outcome
// in their trailers.
func (s *Server) Finish(err error) {
	st := status.New(codes.OK, "")
	if err != nil {
		st = status.Convert(ToStatusError(err))
	}
	s.mu.Lock()
	s.outcome = st
	s.mu.Unlock()
}

// Outcome returns the recorded experiment outcome, or nil while running.
func (s *Server) Outcome() *status.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

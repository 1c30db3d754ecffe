package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"consultdesk.app/internal/obs"
)

// GRPCServer serves grpc.health.v1.Health backed by the readiness probe.
// The overall status ("") and serviceName share the probe result.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the health service wrapper.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		version:   version,
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Probe runs the readiness check once and publishes the result.
func (s *GRPCServer) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch probes every interval until ctx is done, then marks the service
// as shutting down so clients drain.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastErr string
	for {
		err := s.Probe(ctx)
		switch {
		case err != nil && err.Error() != lastErr:
			obs.Warn("readiness probe failed", map[string]any{"error": err.Error(), "version": s.version})
			lastErr = err.Error()
		case err == nil && lastErr != "":
			obs.Info("readiness restored", map[string]any{"version": s.version})
			lastErr = ""
		}
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}

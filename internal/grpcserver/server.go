// Package grpcserver exposes the standard gRPC health service so
// orchestrators can probe the tutor without going through HTTP.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "codetutor.Tutor"

// Pinger is the dependency whose reachability decides the serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// DefaultConfig returns default settings.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}

// Server is a gRPC server carrying health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	pinger Pinger
	cfg    Config
	logger *slog.Logger
}

// New creates a Server. The status starts as NOT_SERVING until the first probe.
func New(pinger Pinger, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}

	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, pinger: pinger, cfg: cfg, logger: logger}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Probe pings the dependency once and updates the serving status.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("gRPC health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.setStatus(status)
	return status
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve probes once, starts the probe loop and serves on lis until Stop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)
	go s.probeLoop(ctx)

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

func (s *Server) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop marks the server as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

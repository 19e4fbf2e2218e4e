package federation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter publishes remote load states over the standard gRPC health
// protocol. The empty service reports the host itself and is always SERVING;
// each remote is its own service: UNKNOWN until its entry settles, then
// SERVING when ready and NOT_SERVING when failed.
type HealthReporter struct {
	server *health.Server
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]bool // remotes already set by a transition
}

// StateSource is a StatusSource that also reports transitions.
type StateSource interface {
	StatusSource
	Observe(Observer)
}

// NewHealthReporter creates a reporter for source and follows its
// transitions. The observer is registered before the snapshot is read, and
// a snapshot entry never overwrites a status set by a transition.
func NewHealthReporter(source StateSource, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}

	hr := &HealthReporter{
		server: health.NewServer(),
		logger: logger,
		seen:   make(map[string]bool),
	}
	hr.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	source.Observe(hr.observe)

	snapshot := source.Snapshot()
	hr.mu.Lock()
	defer hr.mu.Unlock()
	for _, rs := range snapshot {
		if !hr.seen[rs.Name] {
			hr.server.SetServingStatus(rs.Name, servingStatus(rs.State))
		}
	}
	return hr
}

func (hr *HealthReporter) observe(ev Event) {
	if ev.Exposed != "" {
		return
	}
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.seen[ev.Container] = true
	hr.server.SetServingStatus(ev.Container, servingStatus(ev.State))
}

func servingStatus(s LoadState) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case StateReady:
		return healthpb.HealthCheckResponse_SERVING
	case StateFailed:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// Server exposes the underlying health server.
func (hr *HealthReporter) Server() healthpb.HealthServer {
	return hr.server
}

// Register attaches the health service to s.
func (hr *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, hr.server)
}

// Serve runs a gRPC server with the health service on addr until ctx is done.
func (hr *HealthReporter) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return hr.ServeListener(ctx, listener)
}

// ServeListener is Serve on an existing listener.
func (hr *HealthReporter) ServeListener(ctx context.Context, listener net.Listener) error {
	server := grpc.NewServer()
	hr.Register(server)

	go func() {
		<-ctx.Done()
		hr.server.Shutdown()
		server.GracefulStop()
	}()

	hr.logger.Info("gRPC health service listening", zap.String("address", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server failed: %w", err)
	}
	return nil
}

// CheckHealth dials addr and queries the health of service; the empty
// service is the host itself.
func CheckHealth(ctx context.Context, addr, service string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

package federation_test

import (
	"context"
	"net"
	"testing"
	"time"

	"mfehost/pkg/federation"
	"mfehost/pkg/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func checkStatus(t *testing.T, hr *federation.HealthReporter, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hr.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthReporter_FollowsRemoteState(t *testing.T) {
	c := remote.DevContainer(zaptest.NewLogger(t))
	loader := newLoader(t, map[string]string{
		"remoteApp": serveContainer(t, c),
		"down":      "http://127.0.0.1:1/assets/remoteEntry.js",
	})
	hr := federation.NewHealthReporter(loader, zaptest.NewLogger(t))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, hr, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, checkStatus(t, hr, "remoteApp"))
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, checkStatus(t, hr, "down"))

	_, err := loader.LoadRemote(context.Background(), "remoteApp")
	require.NoError(t, err)
	_, err = loader.LoadRemote(context.Background(), "down")
	require.Error(t, err)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, hr, "remoteApp"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, hr, "down"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, hr, ""))
}

// racingSource settles a remote while its snapshot is being taken, so the
// snapshot it returns is already stale.
type racingSource struct {
	observers []federation.Observer
}

func (s *racingSource) Observe(fn federation.Observer) {
	s.observers = append(s.observers, fn)
}

func (s *racingSource) Snapshot() []federation.RemoteStatus {
	for _, fn := range s.observers {
		fn(federation.Event{Container: "remoteApp", State: federation.StateReady})
	}
	return []federation.RemoteStatus{
		{Name: "remoteApp", State: federation.StateLoading},
		{Name: "cart", State: federation.StateUnloaded},
	}
}

func TestHealthReporter_TransitionDuringSnapshot(t *testing.T) {
	hr := federation.NewHealthReporter(&racingSource{}, zaptest.NewLogger(t))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, hr, "remoteApp"))
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, checkStatus(t, hr, "cart"))
}

func TestHealthReporter_UnknownService(t *testing.T) {
	hr := federation.NewHealthReporter(newLoader(t, nil), zaptest.NewLogger(t))

	_, err := hr.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestCheckHealth_OverGRPC(t *testing.T) {
	hr := federation.NewHealthReporter(newLoader(t, nil), zaptest.NewLogger(t))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hr.ServeListener(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	st, err := federation.CheckHealth(context.Background(), listener.Addr().String(), "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}

package federation

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks remote resolution metrics
type Metrics struct {
	// Fetch metrics
	ManifestFetches *prometheus.CounterVec
	ChunkFetches    *prometheus.CounterVec
	FetchLatency    prometheus.Histogram
	RetryAttempts   prometheus.Counter

	// Resolution metrics
	Resolutions *prometheus.CounterVec
	RemoteState *prometheus.GaugeVec

	// Shared dependency metrics
	SharedInstances  *prometheus.GaugeVec
	SharedReused     *prometheus.CounterVec
	SharedDuplicated *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers the metrics. A nil registry gets a fresh
// one so several loaders can coexist in one process.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		ManifestFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mfehost_manifest_fetches_total",
			Help: "Remote entry fetches by remote and result",
		}, []string{"remote", "result"}),
		ChunkFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mfehost_chunk_fetches_total",
			Help: "Module chunk fetches by remote and result",
		}, []string{"remote", "result"}),
		FetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mfehost_fetch_latency_seconds",
			Help:    "Latency of remote entry and chunk fetches",
			Buckets: prometheus.DefBuckets,
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "mfehost_fetch_retries_total",
			Help: "Total number of fetch retry attempts",
		}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mfehost_resolutions_total",
			Help: "Module resolutions by remote, module and result",
		}, []string{"remote", "module", "result"}),
		RemoteState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mfehost_remote_state",
			Help: "Load state per remote (0 unloaded, 1 loading, 2 ready, 3 failed)",
		}, []string{"remote"}),
		SharedInstances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mfehost_shared_instances",
			Help: "Loaded instances per shared dependency",
		}, []string{"name"}),
		SharedReused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mfehost_shared_reused_total",
			Help: "Shared dependency requests served by an existing instance",
		}, []string{"name"}),
		SharedDuplicated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mfehost_shared_duplicated_total",
			Help: "Shared dependency requests that loaded an additional copy",
		}, []string{"name"}),
		gatherer: registry,
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// StatusSource reports remote load states.
type StatusSource interface {
	Snapshot() []RemoteStatus
}

// HealthEndpoint provides HTTP health check endpoints
type HealthEndpoint struct {
	source  StatusSource
	metrics *Metrics
	logger  *zap.Logger
	started time.Time
}

// NewHealthEndpoint creates health check HTTP handlers
func NewHealthEndpoint(source StatusSource, metrics *Metrics, logger *zap.Logger) *HealthEndpoint {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthEndpoint{
		source:  source,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
}

// RegisterHandlers registers HTTP handlers
func (he *HealthEndpoint) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", he.handleHealth)
	mux.HandleFunc("/health/live", he.handleLiveness)
	mux.HandleFunc("/health/ready", he.handleReadiness)
	if he.metrics != nil {
		mux.Handle("/metrics", he.metrics.Handler())
	}
}

type healthResponse struct {
	Status    string         `json:"status"`
	Uptime    string         `json:"uptime"`
	Timestamp string         `json:"timestamp"`
	Remotes   []RemoteStatus `json:"remotes"`
}

// handleHealth reports "healthy" when every remote is ready, "degraded" when
// some remote failed or has not loaded yet. The host itself keeps serving
// either way, so the status code stays 200.
func (he *HealthEndpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	remotes := he.source.Snapshot()

	status := "healthy"
	for _, rs := range remotes {
		if rs.State != StateReady {
			status = "degraded"
			break
		}
	}

	resp := healthResponse{
		Status:    status,
		Uptime:    time.Since(he.started).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Remotes:   remotes,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		he.logger.Debug("Failed to write health response", zap.Error(err))
	}
}

// handleLiveness checks if the service is alive
func (he *HealthEndpoint) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleReadiness is not ready while any remote is still loading.
func (he *HealthEndpoint) handleReadiness(w http.ResponseWriter, r *http.Request) {
	for _, rs := range he.source.Snapshot() {
		if rs.State == StateLoading {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

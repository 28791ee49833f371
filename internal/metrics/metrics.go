// Package metrics exposes Prometheus counters/gauges for the gateway and
// agent plus a /metrics + /ready HTTP surface, grounded on the teacher
// pack's kstaniek-go-ampio-server metrics package (promauto counters, a
// readiness callback, an atomic-mirrored Snapshot for cheap in-process
// logging without scraping Prometheus).
package metrics

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_frames_pushed_total",
		Help: "Total video packets pushed into a BroadcastBus.",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_frames_dropped_total",
		Help: "Total inter-frames dropped by the kind-aware drop policy.",
	})
	ForceClears = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_force_clears_total",
		Help: "Total subscriber queue clears triggered by a key frame or codec config.",
	})
	SubscriberCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_subscribers",
		Help: "Current number of BroadcastBus subscribers.",
	})
	ClientCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_clients",
		Help: "Current number of active gateway client slots.",
	})
	AgentCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_agents",
		Help: "Current number of active gateway agent slots.",
	})
	DiscoveryTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_discovery_entries",
		Help: "Current number of live entries in the discovery table.",
	})
	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions by target state.",
	}, []string{"state"})
	LaneSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_lane_sends_total",
		Help: "Packets sent per priority lane.",
	}, []string{"lane"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrAgentRead    = "agent_read"
	ErrAgentWrite   = "agent_write"
	ErrClientRead   = "client_read"
	ErrClientWrite  = "client_write"
	ErrHandshake    = "handshake"
	ErrDiscoveryRX  = "discovery_rx"
	ErrEncoder      = "encoder"
	ErrCircuitBreak = "circuit_breaker_open"
)

// SetReadinessFunc installs the callback used by /ready.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	defer readinessMu.Unlock()
	readinessFn = fn
}

// IsReady reports the installed readiness callback's result, defaulting to
// true when none is installed.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves /metrics and /ready on addr in a background goroutine.
func StartHTTP(addr string, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics http server error", "error", err)
		}
	}()
	return srv
}

// Local atomic-mirrored counters for cheap in-process reporting without
// scraping Prometheus.
var (
	localFramesPushed  uint64
	localFramesDropped uint64
	localForceClears   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesPushed  uint64
	FramesDropped uint64
	ForceClears   uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesPushed:  atomic.LoadUint64(&localFramesPushed),
		FramesDropped: atomic.LoadUint64(&localFramesDropped),
		ForceClears:   atomic.LoadUint64(&localForceClears),
	}
}

func IncFramesPushed() {
	FramesPushed.Inc()
	atomic.AddUint64(&localFramesPushed, 1)
}

func IncFramesDropped() {
	FramesDropped.Inc()
	atomic.AddUint64(&localFramesDropped, 1)
}

func IncForceClears() {
	ForceClears.Inc()
	atomic.AddUint64(&localForceClears, 1)
}

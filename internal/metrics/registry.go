// Package metrics wraps the Prometheus collectors this service exposes and
// a gopsutil-backed system snapshot for /health, following
// go-server-3/internal/metrics and go-server/internal/metrics/system.go.
package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Registry wraps every Prometheus collector used across the data plane.
type Registry struct {
	CacheHitsL1    prometheus.Counter
	CacheHitsL2    prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheSets      prometheus.Counter
	SingleFlightJoins prometheus.Counter

	BreakerOpens   *prometheus.CounterVec
	RateLimitWaits *prometheus.CounterVec

	FetchAttempts *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	FetchDurationMs prometheus.Histogram

	RefreshTotal    prometheus.Counter
	RefreshFailures prometheus.Counter
	PartialFailures prometheus.Counter

	StreamAppends prometheus.Counter
	StreamErrors  prometheus.Counter

	WSConnectionsActive prometheus.Gauge
	WSMessagesSent      prometheus.Counter
	WSMessagesDropped   prometheus.Counter
	WSSessionsLagged    prometheus.Counter
}

var (
	registryOnce sync.Once
	registry     *Registry
)

// NewRegistry returns the process-wide Registry. The first call creates
// every collector and registers it with the default Prometheus
// registerer; later calls return that same Registry, since registering a
// collector name twice panics.
func NewRegistry() *Registry {
	registryOnce.Do(func() { registry = newRegistry() })
	return registry
}

func newRegistry() *Registry {
	return &Registry{
		CacheHitsL1: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_cache_hits_l1_total",
			Help: "Total number of L1 cache hits.",
		}),
		CacheHitsL2: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_cache_hits_l2_total",
			Help: "Total number of L2 cache hits (L1 miss, L2 hit, promoted).",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_cache_misses_total",
			Help: "Total number of double misses (both tiers).",
		}),
		CacheSets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_cache_sets_total",
			Help: "Total number of cache writes.",
		}),
		SingleFlightJoins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_cache_singleflight_joins_total",
			Help: "Total number of callers that joined an in-flight computation instead of starting one.",
		}),
		BreakerOpens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_breaker_opens_total",
			Help: "Total number of times a circuit breaker transitioned to open, by endpoint.",
		}, []string{"endpoint"}),
		RateLimitWaits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_rate_limit_waits_total",
			Help: "Total number of calls that had to wait for pacing, by endpoint.",
		}, []string{"endpoint"}),
		FetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_fetch_attempts_total",
			Help: "Total number of external provider fetch attempts, by provider.",
		}, []string{"provider"}),
		FetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_fetch_failures_total",
			Help: "Total number of external provider fetch failures, by provider and kind.",
		}, []string{"provider", "kind"}),
		FetchDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "odin_fetch_duration_milliseconds",
			Help:    "Duration of a full aggregator fetch_summary call.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
		RefreshTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_market_refresh_total",
			Help: "Total number of market refresh cycles attempted.",
		}),
		RefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_market_refresh_failures_total",
			Help: "Total number of market refresh cycles that produced no usable snapshot.",
		}),
		PartialFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_market_partial_failures_total",
			Help: "Total number of accepted snapshots with partial_failure=true.",
		}),
		StreamAppends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_stream_appends_total",
			Help: "Total number of successful stream publishes.",
		}),
		StreamErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_stream_errors_total",
			Help: "Total number of failed stream publishes.",
		}),
		WSConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_ws_connections_active",
			Help: "Number of active WebSocket sessions.",
		}),
		WSMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_ws_messages_sent_total",
			Help: "Total number of broadcast messages enqueued for WebSocket subscribers.",
		}),
		WSMessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_ws_messages_dropped_total",
			Help: "Total number of WebSocket messages dropped: evicted from a full subscriber buffer, or not delivered because the client socket write failed.",
		}),
		WSSessionsLagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_ws_sessions_lagged_total",
			Help: "Total number of times a subscriber was marked lagged.",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// SystemSnapshot is the gopsutil/runtime-derived system summary surfaced by
// GET /health, grounded on go-server/internal/metrics/system.go.
type SystemSnapshot struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	GoVersion   string  `json:"go_version"`
}

// ReadSystemSnapshot samples runtime memory stats and host CPU usage.
// CPU sampling blocks for up to the given window; callers on a hot path
// should pass a short window (e.g. 100ms) or cache the result.
func ReadSystemSnapshot(cpuWindow time.Duration) SystemSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var cpuPercent float64
	if percents, err := cpu.Percent(cpuWindow, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	return SystemSnapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(mem.Sys) / 1024 / 1024,
		CPUPercent:  cpuPercent,
		GoVersion:   runtime.Version(),
	}
}

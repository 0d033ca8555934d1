package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// OptimizeRuns counts optimize calls by mode (single, partition, joint) and outcome
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_runs_total", Help: "Optimize calls by mode and status."},
		[]string{"mode", "status"},
	)
	// OptimizeDuration tracks wall time of optimize calls
	OptimizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Optimize wall time in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}},
		[]string{"mode"},
	)
	// SearchIterations observes metaheuristic iterations per solve
	SearchIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "search_iterations", Help: "Local search iterations per solve.", Buckets: prometheus.ExponentialBuckets(10, 4, 8)},
		[]string{"metaheuristic"},
	)

	// DistanceFallbacks counts matrices rebuilt from great-circle distance
	DistanceFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "distance_fallbacks_total", Help: "Road distance provider failures recovered by haversine fallback."},
	)
	// DistanceCacheLookups counts cache hits and misses per pair
	DistanceCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "distance_cache_lookups_total", Help: "Distance cache lookups by result."},
		[]string{"result"},
	)

	// Jobs counts async job transitions by terminal status
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_total", Help: "Async optimize jobs by final status."},
		[]string{"status"},
	)
	// JobQueueDepth is the number of pending jobs
	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "jobs_queue_depth", Help: "Pending async optimize jobs."},
	)

	// WebhookDeliveries counts callback delivery outcomes
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Job callback deliveries by status."},
		[]string{"status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeRuns)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(SearchIterations)
		Registry.MustRegister(DistanceFallbacks)
		Registry.MustRegister(DistanceCacheLookups)
		Registry.MustRegister(Jobs)
		Registry.MustRegister(JobQueueDepth)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes Registry for scraping.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

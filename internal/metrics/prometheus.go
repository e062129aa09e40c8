// Package metrics provides Prometheus-based metrics collection for ipscanner.
// Engine components depend on the Recorder interface; the API server exposes
// the registry on /metrics.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all ipscanner metrics
	namespace = "ipscanner"

	// Subsystems
	subsystemScan    = "scan"
	subsystemPinger  = "pinger"
	subsystemFetcher = "fetcher"
	subsystemSystem  = "system"
	subsystemAPI     = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	hostsScanned  *prometheus.CounterVec
	portsScanned  *prometheus.CounterVec
	activeWorkers prometheus.Gauge

	// Probe metrics
	pingerFallbacks *prometheus.CounterVec
	fetcherDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime time.Time
	mu        sync.Mutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initProbeMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by transition kind and final status",
		},
		[]string{"kind", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of whole range scans in seconds",
			Buckets:   []float64{0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 900.0, 3600.0},
		},
		[]string{"kind"},
	)

	pm.hostsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_total",
			Help:      "Total number of hosts scanned by result type",
		},
		[]string{"result_type"},
	)

	pm.portsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Total number of ports probed by outcome",
		},
		[]string{"status"},
	)

	pm.activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active_workers",
			Help:      "Number of hosts being scanned right now",
		},
	)
}

// initProbeMetrics initializes pinger and fetcher metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.pingerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPinger,
			Name:      "fallbacks_total",
			Help:      "Times the selected pinger was unusable and replaced",
		},
		[]string{"from", "to"},
	)

	pm.fetcherDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemFetcher,
			Name:      "duration_seconds",
			Help:      "Per-host duration of each fetcher",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"fetcher"},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Number of active goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.hostsScanned,
		pm.portsScanned,
		pm.activeWorkers,
		pm.pingerFallbacks,
		pm.fetcherDuration,
		pm.httpRequests,
		pm.httpDuration,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler setup
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// IncrementScansTotal counts a finished scan.
func (pm *PrometheusMetrics) IncrementScansTotal(kind, status string) {
	pm.scansTotal.WithLabelValues(kind, status).Inc()
}

// RecordScanDuration records the wall time of one scan.
func (pm *PrometheusMetrics) RecordScanDuration(kind string, duration time.Duration) {
	pm.scanDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncrementHosts counts one host by its final result type.
func (pm *PrometheusMetrics) IncrementHosts(resultType string) {
	pm.hostsScanned.WithLabelValues(resultType).Inc()
}

// AddPorts counts probed ports by outcome (open, filtered, closed).
func (pm *PrometheusMetrics) AddPorts(status string, count int) {
	pm.portsScanned.WithLabelValues(status).Add(float64(count))
}

// SetActiveWorkers sets the number of running host pipelines.
func (pm *PrometheusMetrics) SetActiveWorkers(count int) {
	pm.activeWorkers.Set(float64(count))
}

// IncrementPingerFallback counts a pinger downgrade.
func (pm *PrometheusMetrics) IncrementPingerFallback(from, to string) {
	pm.pingerFallbacks.WithLabelValues(from, to).Inc()
}

// RecordFetcherDuration records how long one fetcher took on one host.
func (pm *PrometheusMetrics) RecordFetcherDuration(fetcher string, duration time.Duration) {
	pm.fetcherDuration.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes the goroutine and uptime gauges.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

var _ Recorder = (*PrometheusMetrics)(nil)

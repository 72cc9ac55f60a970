// Package metrics provides Prometheus metrics for the sugang practice service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)


// Manager manages all Prometheus metrics for the practice service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Session lifecycle
	sessionsStarted  prometheus.Counter
	sessionsEnded    prometheus.Counter
	sessionsExpired  prometheus.Counter
	sessionsReplaced prometheus.Counter
	startConflicts   prometheus.Counter
	activeSessions   prometheus.Gauge

	// Attempts
	attempts          *prometheus.CounterVec
	attemptPercentile prometheus.Histogram
	attemptLatency    prometheus.Histogram

	// Leaderboard reconciliation
	reconciliations   *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	leaderboardResets prometheus.Counter

	// Expiry stream
	expiryEvents  *prometheus.CounterVec
	expiryDropped prometheus.Counter

	// Ranking snapshot
	snapshotSize            prometheus.Gauge
	snapshotRefreshDuration prometheus.Histogram
	snapshotLastUnix        prometheus.Gauge
	snapshotRefreshErrors   prometheus.Counter

	// Store
	storeOpLatency *prometheus.HistogramVec

	// Reconcile queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueueErrors      prometheus.Counter
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "sugang",
		subsystem:        "practice",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Session lifecycle
	m.sessionsStarted = m.counter("sessions_started_total", "Total number of practice sessions started")
	m.sessionsEnded = m.counter("sessions_ended_total", "Total number of practice sessions ended explicitly")
	m.sessionsExpired = m.counter("sessions_expired_total", "Total number of practice sessions that expired by TTL")
	m.sessionsReplaced = m.counter("sessions_replaced_total", "Total number of stale sessions torn down by a new start")
	m.startConflicts = m.counter("start_conflicts_total", "Total number of starts rejected because the actor lock was held")
	m.activeSessions = m.gauge("active_sessions", "Sessions started minus sessions ended or expired (approximate)")

	// Attempts
	m.attempts = m.counterVec("attempts_total", "Total number of enrollment attempts by status", "status")
	m.attemptPercentile = m.histogram("attempt_percentile", "Percentile assigned to accepted attempts",
		[]float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1})
	m.attemptLatency = m.histogram("attempt_latency_milliseconds", "Virtual latency of accepted attempts in milliseconds",
		[]float64{25, 50, 100, 150, 200, 300, 500, 1000, 2000, 5000})

	// Reconciliation
	m.reconciliations = m.counterVec("reconciliations_total", "Leaderboard reconciliations by trigger and result", "trigger", "result")
	m.reconcileDuration = m.histogram("reconcile_duration_milliseconds", "Leaderboard reconciliation latency in milliseconds", m.histogramBuckets)
	m.leaderboardResets = m.counter("leaderboard_resets_total", "Total number of leaderboard window resets")

	// Expiry stream
	m.expiryEvents = m.counterVec("expiry_events_total", "Expired keys seen on the notification stream by kind", "kind")
	m.expiryDropped = m.counter("expiry_events_dropped_total", "Expiry notifications dropped because a consumer was full")

	// Ranking snapshot
	m.snapshotSize = m.gauge("ranking_snapshot_size", "Number of historical latencies in the current ranking snapshot")
	m.snapshotRefreshDuration = m.histogram("ranking_snapshot_refresh_milliseconds", "Ranking snapshot rebuild duration in milliseconds", m.histogramBuckets)
	m.snapshotLastUnix = m.gauge("ranking_snapshot_last_unix", "Unix time of the last published ranking snapshot")
	m.snapshotRefreshErrors = m.counter("ranking_snapshot_refresh_errors_total", "Total number of failed ranking snapshot refreshes")

	// Store
	m.storeOpLatency = m.histogramVec("store_op_latency_milliseconds", "Ephemeral store operation latency in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250}, "op")

	// Reconcile queue and workers
	m.queueSize = m.gauge("reconcile_queue_size", "Current size of the reconcile queue")
	m.queueCapacity = m.gauge("reconcile_queue_capacity", "Capacity of the reconcile queue")
	m.queueEnqueueErrors = m.counter("reconcile_queue_enqueue_errors_total", "Total number of rejected reconcile enqueues")
	m.workerCount = m.gauge("reconcile_worker_count", "Number of reconcile workers")
	m.workerProcessingLatency = m.histogram("reconcile_worker_latency_milliseconds", "Reconcile worker processing latency in milliseconds", m.histogramBuckets)

	// HTTP
	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")

	// Errors
	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint, method and type", "endpoint", "method", "error_type")

	// System
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordSessionStarted increments the started counter and the active gauge.
func RecordSessionStarted() {
	globalManager.sessionsStarted.Inc()
	globalManager.activeSessions.Inc()
}

// RecordSessionEnded increments the explicit end counter.
func RecordSessionEnded() {
	globalManager.sessionsEnded.Inc()
	globalManager.activeSessions.Dec()
}

// RecordSessionExpired increments the TTL expiry counter.
func RecordSessionExpired() {
	globalManager.sessionsExpired.Inc()
	globalManager.activeSessions.Dec()
}

// RecordSessionReplaced counts a stale session torn down by Start.
func RecordSessionReplaced() {
	globalManager.sessionsReplaced.Inc()
	globalManager.activeSessions.Dec()
}

// RecordStartConflict counts a Start rejected by the actor lock.
func RecordStartConflict() {
	globalManager.startConflicts.Inc()
}

// RecordAttempt counts an attempt by status (accepted, replayed, not_open, early_recorded).
func RecordAttempt(status string) {
	globalManager.attempts.WithLabelValues(status).Inc()
}

// RecordAttemptOutcome observes the percentile and latency of an accepted attempt.
func RecordAttemptOutcome(percentile float64, latencyMs int64) {
	globalManager.attemptPercentile.Observe(percentile)
	globalManager.attemptLatency.Observe(float64(latencyMs))
}

// RecordReconcile counts a reconciliation by trigger (end, expiry) and result (updated, unchanged, skipped, error).
func RecordReconcile(trigger, result string, durationMs float64) {
	globalManager.reconciliations.WithLabelValues(trigger, result).Inc()
	globalManager.reconcileDuration.Observe(durationMs)
}

// RecordLeaderboardReset counts a leaderboard window reset.
func RecordLeaderboardReset() {
	globalManager.leaderboardResets.Inc()
}

// RecordExpiryEvent counts a key seen on the expiry stream (session, ignored).
func RecordExpiryEvent(kind string) {
	globalManager.expiryEvents.WithLabelValues(kind).Inc()
}

// RecordExpiryDropped counts an expiry notification that could not be delivered.
func RecordExpiryDropped() {
	globalManager.expiryDropped.Inc()
}

// RecordSnapshotRefresh records a published ranking snapshot.
func RecordSnapshotRefresh(size int, durationMs float64) {
	globalManager.snapshotSize.Set(float64(size))
	globalManager.snapshotRefreshDuration.Observe(durationMs)
	globalManager.snapshotLastUnix.Set(float64(time.Now().Unix()))
}

// RecordSnapshotRefreshError counts a failed ranking snapshot refresh.
func RecordSnapshotRefreshError() {
	globalManager.snapshotRefreshErrors.Inc()
}

// RecordStoreOp records the latency of an ephemeral store operation.
func RecordStoreOp(op string, latencyMs float64) {
	globalManager.storeOpLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateQueueSize sets the current reconcile queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the reconcile queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected reconcile enqueue.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the reconcile worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records reconcile worker latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records errors by HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package metrics provides Prometheus metrics for the ladder service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ladder service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ranking
	scoreUpdates  prometheus.Counter
	scoreUnranked prometheus.Counter
	affectedUsers prometheus.Histogram

	// Ordered score index
	indexEntries       prometheus.Gauge
	indexUpdateLatency prometheus.Histogram
	indexQueryLatency  prometheus.Histogram

	// Notification fanout
	fanoutQueueSize        prometheus.Gauge
	fanoutQueueCapacity    prometheus.Gauge
	notificationsPublished prometheus.Counter
	notificationsDelivered prometheus.Counter
	notificationsDropped   *prometheus.CounterVec

	// Presence
	presenceSessions    prometheus.Gauge
	presenceOnlineUsers prometheus.Gauge
	presenceEvictions   prometheus.Counter
	presenceHeartbeats  prometheus.Counter
	outboxDropped       prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
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
		namespace:        "ladder",
		subsystem:        "leaderboard",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.scoreUpdates = m.counter("score_updates_total", "Total number of accepted score submissions")
	m.scoreUnranked = m.counter("score_unranked_total", "Score submissions that could not be ranked")
	m.affectedUsers = m.histogram("affected_users", "Number of users affected by one score update",
		[]float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000})

	m.indexEntries = m.gauge("index_entries", "Number of users in the ordered score index")
	m.indexUpdateLatency = m.histogram("index_update_latency_milliseconds", "Index upsert latency in milliseconds", m.histogramBuckets)
	m.indexQueryLatency = m.histogram("index_query_latency_milliseconds", "Index read latency in milliseconds", m.histogramBuckets)

	m.fanoutQueueSize = m.gauge("fanout_queue_size", "Score update events waiting to be published")
	m.fanoutQueueCapacity = m.gauge("fanout_queue_capacity", "Capacity of the fanout queue")
	m.notificationsPublished = m.counter("notifications_published_total", "Notifications written to the event channel")
	m.notificationsDelivered = m.counter("notifications_delivered_total", "Notifications pushed to a live connection")
	m.notificationsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notifications_dropped_total",
		Help: "Notifications dropped before reaching a client, by reason",
	}, []string{"reason"})

	m.presenceSessions = m.gauge("presence_sessions", "Live connection sessions")
	m.presenceOnlineUsers = m.gauge("presence_online_users", "Distinct online users")
	m.presenceEvictions = m.counter("presence_evictions_total", "Sessions evicted for missing heartbeats")
	m.presenceHeartbeats = m.counter("presence_heartbeats_total", "Liveness signals received from clients")
	m.outboxDropped = m.counter("outbox_dropped_total", "Push messages dropped because a session outbox was full")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total",
		Help: "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "errors_by_component_total",
		Help: "Errors by component and type",
	}, []string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "errors_by_endpoint_total",
		Help: "HTTP errors by endpoint, method and type",
	}, []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// Ranking Metrics Functions.

// RecordScoreUpdate increments the accepted score submission counter.
func RecordScoreUpdate() { globalManager.scoreUpdates.Inc() }

// RecordScoreUnranked increments the unranked submission counter.
func RecordScoreUnranked() { globalManager.scoreUnranked.Inc() }

// RecordAffectedUsers observes the size of an affected-user set.
func RecordAffectedUsers(n int) { globalManager.affectedUsers.Observe(float64(n)) }

// Index Metrics Functions.

// UpdateIndexEntries sets the number of indexed users.
func UpdateIndexEntries(n int) { globalManager.indexEntries.Set(float64(n)) }

// RecordIndexUpdateLatency records upsert latency.
func RecordIndexUpdateLatency(ms float64) { globalManager.indexUpdateLatency.Observe(ms) }

// RecordIndexQueryLatency records read latency.
func RecordIndexQueryLatency(ms float64) { globalManager.indexQueryLatency.Observe(ms) }

// Fanout Metrics Functions.

// UpdateFanoutQueueSize sets the current fanout backlog.
func UpdateFanoutQueueSize(n int) { globalManager.fanoutQueueSize.Set(float64(n)) }

// UpdateFanoutQueueCapacity sets the fanout queue capacity.
func UpdateFanoutQueueCapacity(n int) { globalManager.fanoutQueueCapacity.Set(float64(n)) }

// RecordNotificationPublished increments the published counter.
func RecordNotificationPublished() { globalManager.notificationsPublished.Inc() }

// RecordNotificationDelivered increments the delivered counter.
func RecordNotificationDelivered() { globalManager.notificationsDelivered.Inc() }

// RecordNotificationDropped increments the dropped counter for reason.
func RecordNotificationDropped(reason string) {
	globalManager.notificationsDropped.WithLabelValues(reason).Inc()
}

// Presence Metrics Functions.

// UpdatePresence sets the session and online-user gauges.
func UpdatePresence(sessions, users int) {
	globalManager.presenceSessions.Set(float64(sessions))
	globalManager.presenceOnlineUsers.Set(float64(users))
}

// RecordPresenceEviction increments the eviction counter.
func RecordPresenceEviction() { globalManager.presenceEvictions.Inc() }

// RecordPresenceHeartbeat increments the heartbeat counter.
func RecordPresenceHeartbeat() { globalManager.presenceHeartbeats.Inc() }

// RecordOutboxDropped increments the outbox overflow counter.
func RecordOutboxDropped() { globalManager.outboxDropped.Inc() }

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Metrics Functions.

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

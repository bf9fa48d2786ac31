// Package metrics exposes the daemon's Prometheus instrumentation: task
// lifecycle counters/histograms, worker pool occupancy gauges, deadlock
// mitigation counters, and the usual HTTP/websocket surface metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_tasks_submitted_total",
			Help: "Total number of tasks submitted, by command name",
		},
		[]string{"command"},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_tasks_finished_total",
			Help: "Total number of tasks reaching FINISHED, by command name, finish type, and kill reason",
		},
		[]string{"command", "finish_type", "kill_reason"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterd_task_duration_seconds",
			Help:    "Wall-clock time from CREATED to FINISHED, by command name",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~327s
		},
		[]string{"command"},
	)

	TaskQueueLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterd_task_queue_latency_seconds",
			Help:    "Time a task spent QUEUED before a worker reported TaskExecuted",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"command"},
	)

	// Worker pool metrics
	PoolPersistentTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterd_pool_persistent_total",
			Help: "Configured number of persistent worker processes",
		},
	)

	PoolPersistentBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterd_pool_persistent_busy",
			Help: "Current number of persistent worker processes running a task",
		},
	)

	PoolTempActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterd_pool_temp_active",
			Help: "Current number of temporary worker processes alive",
		},
	)

	PoolTempSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterd_pool_temp_spawned_total",
			Help: "Total number of temporary workers spawned for deadlock mitigation",
		},
	)

	DeadlockDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterd_deadlock_detected_total",
			Help: "Total number of times the scheduler's deadlock heuristic has fired",
		},
	)

	TaskKillsForced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_task_kills_forced_total",
			Help: "Total number of tasks force-killed by the garbage collector, by kill reason",
		},
		[]string{"kill_reason"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Event-bus metrics (the optional Redis Pub/Sub fan-out)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_events_published_total",
			Help: "Total number of lifecycle events published, by event type",
		},
		[]string{"type"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterd_event_publish_errors_total",
			Help: "Total number of errors publishing a lifecycle event",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterd_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterd_websocket_messages_total",
			Help: "Total number of WebSocket messages sent, by event type",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission.
func RecordTaskSubmission(command string) {
	TasksSubmitted.WithLabelValues(command).Inc()
}

// RecordTaskFinished records a task reaching its terminal state.
func RecordTaskFinished(command, finishType, killReason string, durationSeconds float64) {
	TasksFinished.WithLabelValues(command, finishType, killReason).Inc()
	TaskDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordQueueLatency records the time a task spent QUEUED before execution.
func RecordQueueLatency(command string, latencySeconds float64) {
	TaskQueueLatency.WithLabelValues(command).Observe(latencySeconds)
}

// SetPoolOccupancy updates the pool gauges from a scheduler tick.
func SetPoolOccupancy(persistentTotal, persistentBusy, tempActive int) {
	PoolPersistentTotal.Set(float64(persistentTotal))
	PoolPersistentBusy.Set(float64(persistentBusy))
	PoolTempActive.Set(float64(tempActive))
}

// RecordTempWorkerSpawned records one deadlock-mitigation temp-worker spawn.
func RecordTempWorkerSpawned() {
	PoolTempSpawned.Inc()
}

// RecordDeadlockDetected records one firing of the deadlock heuristic.
func RecordDeadlockDetected() {
	DeadlockDetected.Inc()
}

// RecordForcedKill records the garbage collector force-killing a task.
func RecordForcedKill(killReason string) {
	TaskKillsForced.WithLabelValues(killReason).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEventPublished records one lifecycle event handed to the event bus.
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventPublishError records a failed event publish.
func RecordEventPublishError() {
	EventPublishErrors.Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count int) {
	WebSocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message broadcast.
func RecordWebSocketMessage(eventType string) {
	WebSocketMessages.WithLabelValues(eventType).Inc()
}

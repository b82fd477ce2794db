// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry at package init and
// exposed through promhttp at /metrics.

var (
	// Persistent store
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_store_operations_total",
			Help: "Persistent store operations by namespace, operation and result",
		},
		[]string{"namespace", "operation", "result"}, // result: ok, miss, expired, error
	)

	StoreEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_store_evictions_total",
			Help: "Expired items evicted from the persistent store",
		},
		[]string{"namespace"},
	)

	// Rate limiter
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_ratelimit_decisions_total",
			Help: "Rate limiter decisions",
		},
		[]string{"limiter", "decision"}, // decision: allowed, denied
	)

	RateLimitWindows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_ratelimit_windows",
			Help: "Active rate limit windows",
		},
		[]string{"limiter"},
	)

	// Audit log
	AuditEntriesLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_audit_entries_total",
			Help: "Audit entries accepted into the buffer",
		},
		[]string{"critical"},
	)

	AuditBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_audit_buffer_entries",
			Help: "Audit entries waiting for the next flush",
		},
	)

	AuditFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_audit_flushes_total",
			Help: "Audit flush attempts by result",
		},
		[]string{"result"}, // ok, requeued
	)

	AuditFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_audit_flush_duration_seconds",
			Help:    "Duration of audit buffer flushes",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditEntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_audit_entries_dropped_total",
			Help: "Audit entries dropped because the pending buffer overflowed after repeated flush failures",
		},
	)

	// Notifications
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_notifications_created_total",
			Help: "Notifications accepted by type",
		},
		[]string{"type"},
	)

	NotificationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_notifications_rejected_total",
			Help: "Notification sends rejected by error kind",
		},
		[]string{"kind"},
	)

	NotificationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_notification_transitions_total",
			Help: "Notification status transitions",
		},
		[]string{"to"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_delivery_attempts_total",
			Help: "Channel adapter delivery attempts",
		},
		[]string{"channel", "result"}, // delivered, failed
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_delivery_duration_seconds",
			Help:    "Channel adapter delivery latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Security
	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_account_lockouts_total",
			Help: "Accounts locked after repeated failures",
		},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"}, // success, failure, locked, throttled
	)

	PermissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_permission_denials_total",
			Help: "Permission checks denied",
		},
		[]string{"resource", "action"},
	)

	// Event ingress
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_received_total",
			Help: "Application events consumed from the ingress",
		},
		[]string{"result"}, // handled, ignored, failed
	)

	// Background jobs
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_job_runs_total",
			Help: "Background job executions",
		},
		[]string{"job"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_job_duration_seconds",
			Help:    "Background job execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_api_active_requests",
			Help: "HTTP requests currently being served",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_websocket_connections",
			Help: "Open websocket connections for in-app push",
		},
	)
)

// RecordStoreOp records a persistent store operation outcome.
func RecordStoreOp(namespace, operation, result string) {
	StoreOperations.WithLabelValues(namespace, operation, result).Inc()
}

// RecordRateLimit records a limiter decision.
func RecordRateLimit(limiter string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	RateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}

// RecordAuditFlush records a flush attempt and how long it took.
func RecordAuditFlush(duration time.Duration, err error) {
	AuditFlushDuration.Observe(duration.Seconds())
	if err != nil {
		AuditFlushes.WithLabelValues("requeued").Inc()
		return
	}
	AuditFlushes.WithLabelValues("ok").Inc()
}

// RecordDelivery records one channel adapter attempt.
func RecordDelivery(channel string, delivered bool, duration time.Duration) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	DeliveryAttempts.WithLabelValues(channel, result).Inc()
	DeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordJob records one background job run.
func RecordJob(job string, duration time.Duration) {
	JobRuns.WithLabelValues(job).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

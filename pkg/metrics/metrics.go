// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the secure-element
// access arbiter. It exposes operation counters, handshake wait histograms,
// notification counters, supply-rail gauges and process resource gauges.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all arbiter metrics
	Namespace = "ese"

	// Label names
	LabelOperation  = "operation"
	LabelResult     = "result"
	LabelPurpose    = "purpose"
	LabelOutcome    = "outcome"
	LabelReason     = "reason"
	LabelFlag       = "flag"
	LabelDirection  = "direction"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Handshake outcomes
	OutcomeReleased    = "released"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeNoRecipient = "no_recipient"

	// Notification outcomes
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"

	// Rail directions
	DirectionOn  = "on"
	DirectionOff = "off"
)

var (
	// OperationsTotal counts arbiter entry point calls by operation and
	// result code (success, busy, forbidden, invalid, timeout, io, closed).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of arbiter operations by operation and result",
		},
		[]string{LabelOperation, LabelResult},
	)

	// OperationDuration tracks how long arbiter operations take, including
	// any handshake wait. Buckets cover the 500ms handshake bound.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of arbiter operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, .75, 1},
		},
		[]string{LabelOperation},
	)

	// HandshakeWaitsTotal counts handshake waits by purpose and outcome.
	HandshakeWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "handshake",
			Name:      "waits_total",
			Help:      "Total number of handshake waits by purpose and outcome",
		},
		[]string{LabelPurpose, LabelOutcome},
	)

	// HandshakeWaitDuration tracks how long waiters blocked on a handshake.
	HandshakeWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "handshake",
			Name:      "wait_duration_seconds",
			Help:      "Duration of handshake waits in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelPurpose},
	)

	// NotificationsTotal counts notifications by reason and outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of notifications by reason and outcome",
		},
		[]string{LabelReason, LabelOutcome},
	)

	// RailTransitionsTotal counts physical supply rail transitions.
	RailTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rail",
			Name:      "transitions_total",
			Help:      "Total number of supply rail transitions by direction",
		},
		[]string{LabelDirection},
	)

	// RailEnabled is 1 while the supply rail is powered.
	RailEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "rail",
			Name:      "enabled",
			Help:      "Whether the secure element supply rail is powered (1) or not (0)",
		},
	)

	// AccessState exposes each holder flag as 0/1.
	AccessState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "access_state",
			Help:      "Current access state flags (1 = set)",
		},
		[]string{LabelFlag},
	)

	// HTTPRequestsTotal tracks socket API requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of socket API requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks socket API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of socket API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ActiveConnections tracks open socket API requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of in-flight socket API requests",
		},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the daemon uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Daemon uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records an arbiter operation with its result code and
// duration in seconds.
//
// Example:
//
//	start := time.Now()
//	err := arb.SpiAcquire(ctx)
//	metrics.RecordOperation("spi_acquire", arbiter.CodeOf(err).String(), time.Since(start).Seconds())
func RecordOperation(operation, result string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordHandshakeWait records the outcome of a handshake wait.
func RecordHandshakeWait(purpose, outcome string, duration float64) {
	if !enabled.Load() {
		return
	}
	HandshakeWaitsTotal.WithLabelValues(purpose, outcome).Inc()
	HandshakeWaitDuration.WithLabelValues(purpose).Observe(duration)
}

// RecordNotification records a notification dispatch attempt.
func RecordNotification(reason, outcome string) {
	if !enabled.Load() {
		return
	}
	NotificationsTotal.WithLabelValues(reason, outcome).Inc()
}

// RecordRailTransition records a physical rail transition and updates
// the enabled gauge.
func RecordRailTransition(on bool) {
	if !enabled.Load() {
		return
	}
	direction := DirectionOff
	value := 0.0
	if on {
		direction = DirectionOn
		value = 1.0
	}
	RailTransitionsTotal.WithLabelValues(direction).Inc()
	RailEnabled.Set(value)
}

// SetAccessState publishes the holder flags. Flags absent from the map
// are left untouched.
func SetAccessState(flags map[string]bool) {
	if !enabled.Load() {
		return
	}
	for name, set := range flags {
		value := 0.0
		if set {
			value = 1.0
		}
		AccessState.WithLabelValues(name).Set(value)
	}
}

// RecordHTTPRequest records a socket API request with its duration.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and optional OTLP tracing
// for the session coordinator.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint, and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_api_request_duration_seconds",
		Help:    "HTTP API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// ActiveSessions gauges live playback sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_active_sessions",
		Help: "Playback sessions currently registered.",
	})

	// AdvancesTotal counts queue advances by what triggered the ending.
	AdvancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_session_advances_total",
		Help: "Queue advances executed, by ending trigger.",
	}, []string{"trigger"})

	// StaleSignalsTotal counts completion signals dropped by the generation
	// guard. Duplicate and late signals are expected, not errors.
	StaleSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_session_stale_signals_total",
		Help: "Completion signals dropped as stale, by source.",
	}, []string{"source"})

	// WatchdogFiredTotal counts synthetic endings raised by the local timer.
	WatchdogFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_session_watchdog_fired_total",
		Help: "Synthetic end-of-item signals raised by the watchdog.",
	})

	// NodeCommandErrorsTotal counts failed commands to the render node.
	NodeCommandErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_node_command_errors_total",
		Help: "Render node commands that failed to send.",
	})

	// DatabaseQueryDuration tracks query latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_db_query_duration_seconds",
		Help:    "Database query duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_db_errors_total",
		Help: "Database operations that returned an error.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive tracks the open connection count.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_db_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

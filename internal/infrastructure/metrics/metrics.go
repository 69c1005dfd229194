// Package metrics provides Prometheus metrics for the source viewer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_viewer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_viewer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Build metrics
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_viewer_builds_total",
			Help: "Archive tree builds by outcome",
		},
		[]string{"result"},
	)

	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "source_viewer_build_duration_seconds",
			Help:    "Time to decode an archive and build its tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	treeNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "source_viewer_tree_nodes",
			Help:    "Number of nodes in successfully built trees",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// Session metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "source_viewer_sessions_active",
			Help: "Number of live viewer sessions",
		},
	)

	socketsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "source_viewer_sockets_active",
			Help: "Number of open state websockets",
		},
	)

	activationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_viewer_leaf_activations_total",
			Help: "Total number of file selections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBuild records the outcome of one build. result is "success",
// "superseded", or a fault kind.
func RecordBuild(result string, duration time.Duration) {
	buildsTotal.WithLabelValues(result).Inc()
	buildDuration.Observe(duration.Seconds())
}

// RecordTreeSize records the node count of a built tree.
func RecordTreeSize(nodes int) {
	treeNodes.Observe(float64(nodes))
}

// SetSessionsActive sets the number of live sessions.
func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}

// SocketOpened increments the open websocket gauge.
func SocketOpened() {
	socketsActive.Inc()
}

// SocketClosed decrements the open websocket gauge.
func SocketClosed() {
	socketsActive.Dec()
}

// RecordActivation counts a file selection.
func RecordActivation() {
	activationsTotal.Inc()
}

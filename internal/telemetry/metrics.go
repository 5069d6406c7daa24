package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zephyrgroup"

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Membership ----
	ViewsInstalled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_installed_total",
			Help:      "Views installed, by kind (view or merge).",
		},
		[]string{"kind"},
	)

	StaleViews = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_views_total",
			Help:      "Views rejected because their id did not exceed the installed one.",
		},
	)

	ViewMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_members",
			Help:      "Number of members in the installed view.",
		},
	)

	DigestMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_merges_total",
			Help:      "Digests handed to the tracker, by result (applied, pending, stale).",
		},
		[]string{"result"},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed encodings, by type (view, digest).",
		},
		[]string{"type"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		ViewsInstalled, StaleViews, ViewMembers, DigestMerges, DecodeErrors,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/view", telemetry.Instrument("view", http.HandlerFunc(n.View)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}

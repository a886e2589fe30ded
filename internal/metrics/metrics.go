// Package metrics exposes Prometheus instrumentation for the notification
// core.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitgent_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitgent_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	intentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitgent_notification_intents_created_total",
			Help: "Notification intents created, by category",
		},
		[]string{"category"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitgent_notification_deliveries_total",
			Help: "Per-device delivery attempts, by outcome and device class",
		},
		[]string{"status", "device_type"},
	)

	suppressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitgent_notification_suppressions_total",
			Help: "Dispatches suppressed before fan-out, by category and reason",
		},
		[]string{"category", "reason"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fitgent_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	sweepProcessed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fitgent_sweep_intents_processed",
			Help:    "Due intents processed per sweep",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordIntentCreated counts a new ledger entry.
func RecordIntentCreated(category string) {
	intentsCreated.WithLabelValues(category).Inc()
}

// RecordDelivery counts one per-device delivery attempt outcome.
func RecordDelivery(status, deviceType string) {
	deliveries.WithLabelValues(status, deviceType).Inc()
}

// RecordSuppression counts a dispatch pass that ended before fan-out.
func RecordSuppression(category, reason string) {
	suppressions.WithLabelValues(category, reason).Inc()
}

// RecordSweep records one sweep's duration and batch size.
func RecordSweep(duration time.Duration, processed int) {
	sweepDuration.Observe(duration.Seconds())
	sweepProcessed.Observe(float64(processed))
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

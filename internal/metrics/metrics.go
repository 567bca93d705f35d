// Package metrics exposes the prometheus instruments for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autoverif_api_build_info",
			Help: "Build information of the AutoVerif QC API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoverif_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoverif_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoverif_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoverif_api_submissions_total",
			Help: "Total number of contribution submissions",
		},
		[]string{"report_type", "status"},
	)

	BatchRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoverif_api_batch_rows_total",
			Help: "Total number of batch-ingested rows",
		},
		[]string{"source", "outcome"},
	)

	OdometerFraudAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autoverif_api_odometer_fraud_alerts_total",
			Help: "Total number of odometer readings flagged as suspect",
		},
	)

	ChainVerifyRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoverif_api_chain_verify_runs_total",
			Help: "Total number of full-chain verification runs",
		},
		[]string{"result"},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoverif_api_upstream_requests_total",
			Help: "Total number of requests to external vehicle-data services",
		},
		[]string{"service", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoverif_api_upstream_request_duration_seconds",
			Help:    "Duration of external vehicle-data requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"service"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordUpstreamRequest records metrics for one external-service call.
func RecordUpstreamRequest(service string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(service, status).Inc()
	UpstreamRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

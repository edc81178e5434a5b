// Package metrics exposes Prometheus collectors for schedules, workers and the http api.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       *prometheus.HistogramVec
	articlesTotal              *prometheus.CounterVec
	feedErrorsTotal            *prometheus.CounterVec
	workerFaultsTotal          prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times, every Observe function calls it.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedtracker_cycles_total",
				Help: "Total number of completed cycles, labeled by schedule and result.",
			},
			[]string{"schedule", "result"},
		)

		cycleDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedtracker_cycle_duration_seconds",
				Help:    "Histogram of cycle durations, labeled by schedule.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"schedule"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedtracker_articles_total",
				Help: "Total number of new articles emitted, labeled by schedule.",
			},
			[]string{"schedule"},
		)

		feedErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedtracker_feed_errors_total",
				Help: "Total number of failed feed fetches, labeled by schedule.",
			},
			[]string{"schedule"},
		)

		workerFaultsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "feedtracker_worker_faults_total",
				Help: "Total number of worker processes that crashed or timed out.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedtracker_active_workers",
				Help: "Number of worker processes currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records a finished cycle
func ObserveCycle(schedule string, failures int, duration time.Duration) {
	Init()
	result := "ok"
	if failures > 0 {
		result = "partial"
	}
	cyclesTotal.WithLabelValues(schedule, result).Inc()
	cycleDurationSeconds.WithLabelValues(schedule).Observe(duration.Seconds())
}

// ObserveArticle counts an emitted article
func ObserveArticle(schedule string) {
	Init()
	articlesTotal.WithLabelValues(schedule).Inc()
}

// ObserveFeedError counts a failed feed
func ObserveFeedError(schedule string) {
	Init()
	feedErrorsTotal.WithLabelValues(schedule).Inc()
}

// ObserveWorkerFault counts a crashed or timed out worker
func ObserveWorkerFault() {
	Init()
	workerFaultsTotal.Inc()
}

// WorkerStarted increments the active workers gauge.
func WorkerStarted() {
	Init()
	activeWorkers.Inc()
}

// WorkerStopped decrements the active workers gauge.
func WorkerStopped() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request count and latency. The route label is the matched mux pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := r.Pattern
		if route == "" {
			route = "unknown"
		}
		ObserveHTTPRequest(r.Method, route, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

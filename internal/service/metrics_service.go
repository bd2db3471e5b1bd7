package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight view of the counters for the status page and tests.
type MetricsSnapshot struct {
	RequestsTotal         uint64
	UpstreamCalls         uint64
	UpstreamFailures      uint64
	AverageUpstreamMillis float64
	Goroutines            int
}

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamTotal    *prometheus.CounterVec
	exportsTotal     *prometheus.CounterVec

	requestCount          uint64
	upstreamCount         uint64
	upstreamFailures      uint64
	upstreamDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	upstreamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "students_api_request_duration_seconds",
		Help:    "Duration of calls to the students API",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	upstreamTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "students_api_requests_total",
		Help: "Calls to the students API by operation and outcome",
	}, []string{"operation", "outcome"})

	exportsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "student_exports_total",
		Help: "Rendered student list exports by format",
	}, []string{"format"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, upstreamDuration, upstreamTotal, exportsTotal, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		upstreamDuration: upstreamDuration,
		upstreamTotal:    upstreamTotal,
		exportsTotal:     exportsTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records metrics for a request served by the web front-end.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// ObserveUpstreamCall records one call to the students API. Status 0 means the
// request never got a response.
func (m *MetricsService) ObserveUpstreamCall(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case status == 0:
		outcome = "unreachable"
	case status >= 300:
		outcome = "error"
	}
	m.upstreamDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.upstreamTotal.WithLabelValues(operation, outcome).Inc()
	atomic.AddUint64(&m.upstreamCount, 1)
	atomic.AddUint64(&m.upstreamDurationTotal, uint64(duration.Nanoseconds()))
	if outcome != "ok" {
		atomic.AddUint64(&m.upstreamFailures, 1)
	}
}

// ObserveExport counts a rendered export.
func (m *MetricsService) ObserveExport(format string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(format).Inc()
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	calls := atomic.LoadUint64(&m.upstreamCount)
	total := atomic.LoadUint64(&m.upstreamDurationTotal)

	var avg float64
	if calls > 0 {
		avg = float64(total) / float64(calls) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:         atomic.LoadUint64(&m.requestCount),
		UpstreamCalls:         calls,
		UpstreamFailures:      atomic.LoadUint64(&m.upstreamFailures),
		AverageUpstreamMillis: avg,
		Goroutines:            runtime.NumGoroutine(),
	}
}

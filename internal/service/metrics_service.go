package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry. A nil *MetricsService is a
// valid no-op recorder.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	storeOps        *prometheus.HistogramVec
	attendanceBatch *prometheus.HistogramVec
	cacheMerges     *prometheus.CounterVec
	resubscribes    prometheus.Counter
	wsSessions      prometheus.Gauge
	jobsProcessed   *prometheus.CounterVec
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

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_cache_lookups_total",
		Help: "Calendar REST cache lookups by result",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "calendar_cache_latency_seconds",
		Help:    "Latency of calendar cache reads",
		Buckets: prometheus.DefBuckets,
	})

	storeOps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docstore_operation_duration_seconds",
		Help:    "Document store operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "collection", "outcome"})

	attendanceBatch := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_batch_size",
		Help:    "Number of records per attendance batch",
		Buckets: []float64{1, 5, 10, 20, 40, 80, 160},
	}, []string{"outcome"})

	cacheMerges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_cache_merges_total",
		Help: "Live query snapshots folded into event caches",
	}, []string{"partition"})

	resubscribes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "event_cache_resubscribes_total",
		Help: "Live queries re-opened after an error",
	})

	wsSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_sessions",
		Help: "Open websocket sessions",
	})

	jobsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Background jobs by type and outcome",
	}, []string{"type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, cacheLatency, storeOps, attendanceBatch, cacheMerges, resubscribes, wsSessions, jobsProcessed, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		cacheLatency:    cacheLatency,
		storeOps:        storeOps,
		attendanceBatch: attendanceBatch,
		cacheMerges:     cacheMerges,
		resubscribes:    resubscribes,
		wsSessions:      wsSessions,
		jobsProcessed:   jobsProcessed,
	}
}

// Registry exposes the registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a calendar cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveStoreOp records one document store call.
func (m *MetricsService) ObserveStoreOp(op, collection string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, collection, outcome(err)).Observe(duration.Seconds())
}

// ObserveAttendanceBatch records the size of a committed or rejected batch.
func (m *MetricsService) ObserveAttendanceBatch(size int, err error) {
	if m == nil {
		return
	}
	m.attendanceBatch.WithLabelValues(outcome(err)).Observe(float64(size))
}

// RecordCacheMerge counts a snapshot folded into an event cache.
func (m *MetricsService) RecordCacheMerge(partition string) {
	if m == nil {
		return
	}
	m.cacheMerges.WithLabelValues(partition).Inc()
}

// RecordResubscribe counts a live query re-opened after failure.
func (m *MetricsService) RecordResubscribe() {
	if m == nil {
		return
	}
	m.resubscribes.Inc()
}

// SessionOpened and SessionClosed track websocket sessions.
func (m *MetricsService) SessionOpened() {
	if m != nil {
		m.wsSessions.Inc()
	}
}

func (m *MetricsService) SessionClosed() {
	if m != nil {
		m.wsSessions.Dec()
	}
}

// RecordJob counts a processed background job.
func (m *MetricsService) RecordJob(jobType string, err error) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detection outcomes recorded by MetricsService.
const (
	DetectionAccepted   = "accepted"
	DetectionDuplicate  = "duplicate"
	DetectionUnmatched  = "unmatched"
	DetectionWeakSignal = "weak_signal"
)

// Submission outcomes recorded by MetricsService.
const (
	SubmissionDirect   = "direct"
	SubmissionDeferred = "deferred"
	SubmissionFailed   = "failed"
)

// MetricsService encapsulates Prometheus instrumentation for the scanner agent.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	detections      *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	replays         *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheLatency    prometheus.Observer

	cacheHitCount  uint64
	cacheMissCount uint64
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

	detections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_detections_total",
		Help: "Beacon detections by matching outcome",
	}, []string{"outcome"})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_session_transitions_total",
		Help: "Scan session state transitions by target state",
	}, []string{"state"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_submissions_total",
		Help: "Attendance submissions by delivery outcome",
	}, []string{"outcome"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_replay_items_total",
		Help: "Replayed queue items by operation and result",
	}, []string{"operation", "result"})

	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_queue_items",
		Help: "Queue items by status",
	}, []string{"status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "local_cache_hits_total",
		Help: "Total local cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "local_cache_misses_total",
		Help: "Total local cache misses",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "local_cache_latency_seconds",
		Help:    "Latency for local cache reads",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, detections, sessions, submissions, replays, queueDepth, cacheHits, cacheMisses, cacheLatency, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		detections:      detections,
		sessions:        sessions,
		submissions:     submissions,
		replays:         replays,
		queueDepth:      queueDepth,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		cacheLatency:    cacheLatency,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordDetection counts a detection by outcome.
func (m *MetricsService) RecordDetection(outcome string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(outcome).Inc()
}

// RecordSessionState counts a session entering state.
func (m *MetricsService) RecordSessionState(state string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state).Inc()
}

// RecordSubmission counts a submission by outcome.
func (m *MetricsService) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// RecordReplay counts a replayed queue item.
func (m *MetricsService) RecordReplay(operation string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.replays.WithLabelValues(operation, result).Inc()
}

// SetQueueDepth publishes the current number of items in status.
func (m *MetricsService) SetQueueDepth(status string, count int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(float64(count))
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
}

// CacheStats returns cumulative hit and miss counts.
func (m *MetricsService) CacheStats() (hits, misses uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.cacheHitCount), atomic.LoadUint64(&m.cacheMissCount)
}

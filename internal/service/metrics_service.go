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

// Outcome labels shared by the domain counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic, the catalog cache and
// the form/report pipeline.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	formSubmissions  *prometheus.CounterVec
	pdfRenders       *prometheus.CounterVec
	pdfRenderSeconds *prometheus.HistogramVec
	storageFallbacks *prometheus.CounterVec
	photoOutcomes    *prometheus.CounterVec
	tempFilesRemoved prometheus.Counter

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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	formSubmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "form_submissions_total",
		Help: "Form submissions by outcome",
	}, []string{"outcome"})

	pdfRenders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pdf_renders_total",
		Help: "PDF documents rendered by report kind and outcome",
	}, []string{"kind", "outcome"})

	pdfRenderSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdf_render_duration_seconds",
		Help:    "Time spent rendering PDF documents",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	storageFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_fallbacks_total",
		Help: "Storage operations that degraded to a fallback path",
	}, []string{"operation"})

	photoOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "photo_processing_total",
		Help: "Submitted photos by processing outcome",
	}, []string{"outcome"})

	tempFilesRemoved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storage_temp_files_removed_total",
		Help: "Temporary download files purged by housekeeping",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		formSubmissions, pdfRenders, pdfRenderSeconds, storageFallbacks, photoOutcomes, tempFilesRemoved, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		formSubmissions:  formSubmissions,
		pdfRenders:       pdfRenders,
		pdfRenderSeconds: pdfRenderSeconds,
		storageFallbacks: storageFallbacks,
		photoOutcomes:    photoOutcomes,
		tempFilesRemoved: tempFilesRemoved,
	}
}

// Registry exposes the underlying registry so other packages can add collectors.
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
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
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordFormSubmission counts a submission attempt.
func (m *MetricsService) RecordFormSubmission(outcome string) {
	if m == nil {
		return
	}
	m.formSubmissions.WithLabelValues(outcome).Inc()
}

// ObservePDFRender counts a render and its duration.
func (m *MetricsService) ObservePDFRender(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pdfRenders.WithLabelValues(kind, outcome).Inc()
	m.pdfRenderSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStorageFallback counts a degraded storage operation.
func (m *MetricsService) RecordStorageFallback(operation string) {
	if m == nil {
		return
	}
	m.storageFallbacks.WithLabelValues(operation).Inc()
}

// RecordPhoto counts one processed photo.
func (m *MetricsService) RecordPhoto(outcome string) {
	if m == nil {
		return
	}
	m.photoOutcomes.WithLabelValues(outcome).Inc()
}

// RecordTempCleanup counts temp files removed by one housekeeping run.
func (m *MetricsService) RecordTempCleanup(removed int) {
	if m == nil {
		return
	}
	m.tempFilesRemoved.Add(float64(removed))
}

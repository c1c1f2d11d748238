// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for distributed tracing and Prometheus
// for metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// QueueDepth is a gauge of the current sync queue depth by bucket
	// (pending, retrying, failed).
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Current sync queue depth by bucket",
		},
		[]string{"bucket"},
	)
	// DrainDuration records how long a single drain run takes end to end.
	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_drain_duration_seconds",
			Help:    "Duration of a single sync drain run",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	// SyncItemsTotal counts drained queue items by terminal outcome.
	SyncItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Total sync queue items processed by outcome",
		},
		[]string{"outcome"}, // synced, failed, conflict, conflict_requeued
	)
	// NetworkQualityTransitionsTotal counts network-quality bucket changes
	// observed by the monitor.
	NetworkQualityTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "network_quality_transitions_total",
			Help: "Total network quality bucket transitions",
		},
		[]string{"quality"},
	)
	// LifecycleDeletedSessionsTotal counts sessions removed by the data
	// lifecycle sweep, by reason.
	LifecycleDeletedSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_deleted_sessions_total",
			Help: "Total sessions deleted by the lifecycle sweep",
		},
		[]string{"reason"}, // synced, stale_unsynced
	)
	// StorageUsageBytes is a gauge of the store's on-disk footprint.
	StorageUsageBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_usage_bytes",
			Help: "On-disk storage footprint tracked by the lifecycle sweep",
		},
		[]string{"scope"}, // total, ml
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DrainDuration)
	prometheus.MustRegister(SyncItemsTotal)
	prometheus.MustRegister(NetworkQualityTransitionsTotal)
	prometheus.MustRegister(LifecycleDeletedSessionsTotal)
	prometheus.MustRegister(StorageUsageBytes)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordQueueDepth updates the queue-depth gauges from a Stats() snapshot.
func RecordQueueDepth(pending, retrying, failed int) {
	QueueDepth.WithLabelValues("pending").Set(float64(pending))
	QueueDepth.WithLabelValues("retrying").Set(float64(retrying))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

// RecordDrainDuration observes one drain run's wall-clock duration.
func RecordDrainDuration(d time.Duration) {
	DrainDuration.Observe(d.Seconds())
}

// RecordSyncOutcome increments the item-outcome counter.
func RecordSyncOutcome(outcome string) {
	SyncItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordNetworkQuality increments the quality-transition counter.
func RecordNetworkQuality(quality string) {
	NetworkQualityTransitionsTotal.WithLabelValues(quality).Inc()
}

// RecordLifecycleDeletion increments the lifecycle-deletion counter.
func RecordLifecycleDeletion(reason string, count int) {
	if count <= 0 {
		return
	}
	LifecycleDeletedSessionsTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordStorageUsage updates the storage-usage gauges.
func RecordStorageUsage(totalBytes, mlBytes int64) {
	StorageUsageBytes.WithLabelValues("total").Set(float64(totalBytes))
	StorageUsageBytes.WithLabelValues("ml").Set(float64(mlBytes))
}

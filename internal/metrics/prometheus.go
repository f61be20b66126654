package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the catalog sync service
type PrometheusMetrics struct {
	// Sync run metrics
	SyncRunsTotal     *prometheus.CounterVec
	SyncRunDuration   *prometheus.HistogramVec
	SyncChangesTotal  *prometheus.CounterVec
	SyncErrorsTotal   *prometheus.CounterVec
	SyncInProgress    prometheus.Gauge
	LastSyncTimestamp prometheus.Gauge

	// Catalog metrics
	CatalogEntries    *prometheus.GaugeVec
	DomainsDiscovered prometheus.Gauge

	// Upstream source metrics
	SourceRequestsTotal   *prometheus.CounterVec
	SourceRequestDuration *prometheus.HistogramVec
	SourceRateLimitWaits  prometheus.Counter
	SourceRetriesTotal    prometheus.Counter

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		// Sync run metrics
		SyncRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_runs_total",
				Help: "Total number of sync runs by type and terminal status",
			},
			[]string{"sync_type", "status"},
		),

		SyncRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_sync_run_duration_seconds",
				Help:    "Duration of complete sync runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"sync_type"},
		),

		SyncChangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_changes_total",
				Help: "Total number of catalog changes applied during sync runs",
			},
			[]string{"change_type"},
		),

		SyncErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_errors_total",
				Help: "Total number of per-domain errors during sync runs",
			},
			[]string{"sync_type"},
		),

		SyncInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_sync_in_progress",
				Help: "Whether a sync run is currently executing (1=running, 0=idle)",
			},
		),

		LastSyncTimestamp: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_sync_last_completed_timestamp_seconds",
				Help: "Unix timestamp of the last successfully completed sync run",
			},
		),

		// Catalog metrics
		CatalogEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_sync_catalog_entries",
				Help: "Number of catalog entries by sync status",
			},
			[]string{"status"},
		),

		DomainsDiscovered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_sync_domains_discovered",
				Help: "Number of integration domains enumerated in the last sync run",
			},
		),

		// Upstream source metrics
		SourceRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_source_requests_total",
				Help: "Total number of HTTP requests made to the upstream source",
			},
			[]string{"status"},
		),

		SourceRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_sync_source_request_duration_seconds",
				Help:    "Duration of upstream source requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		SourceRateLimitWaits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_sync_source_rate_limit_waits_total",
				Help: "Total number of rate limit waits against the upstream source",
			},
		),

		SourceRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_sync_source_retries_total",
				Help: "Total number of retried upstream source requests",
			},
		),

		// Storage metrics
		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_sync_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// Notification metrics
		NotificationsSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"type"},
		),

		NotificationFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_notification_failures_total",
				Help: "Total number of failed notifications",
			},
			[]string{"type"},
		),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sync_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_sync_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_sync_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_sync_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_sync_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_sync_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordSyncRun records a finished sync run
func (m *PrometheusMetrics) RecordSyncRun(syncType, status string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(syncType, status).Inc()
	m.SyncRunDuration.WithLabelValues(syncType).Observe(duration.Seconds())
}

// RecordSyncChange records one applied catalog change
func (m *PrometheusMetrics) RecordSyncChange(changeType string) {
	m.SyncChangesTotal.WithLabelValues(changeType).Inc()
}

// RecordSyncError records a per-domain error during a sync run
func (m *PrometheusMetrics) RecordSyncError(syncType string) {
	m.SyncErrorsTotal.WithLabelValues(syncType).Inc()
}

// SetSyncInProgress updates the in-progress gauge
func (m *PrometheusMetrics) SetSyncInProgress(running bool) {
	value := 0.0
	if running {
		value = 1.0
	}
	m.SyncInProgress.Set(value)
}

// RecordSyncCompleted updates the last completed sync timestamp
func (m *PrometheusMetrics) RecordSyncCompleted(at time.Time) {
	m.LastSyncTimestamp.Set(float64(at.Unix()))
}

// UpdateCatalogEntries updates the catalog entry gauge for one status
func (m *PrometheusMetrics) UpdateCatalogEntries(status string, count int64) {
	m.CatalogEntries.WithLabelValues(status).Set(float64(count))
}

// UpdateDomainsDiscovered updates the discovered domains gauge
func (m *PrometheusMetrics) UpdateDomainsDiscovered(count int) {
	m.DomainsDiscovered.Set(float64(count))
}

// RecordSourceRequest records an upstream source request
func (m *PrometheusMetrics) RecordSourceRequest(status string, duration time.Duration) {
	m.SourceRequestsTotal.WithLabelValues(status).Inc()
	m.SourceRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSourceRateLimitWait records a rate limit wait
func (m *PrometheusMetrics) RecordSourceRateLimitWait() {
	m.SourceRateLimitWaits.Inc()
}

// RecordSourceRetry records a retried source request
func (m *PrometheusMetrics) RecordSourceRetry() {
	m.SourceRetriesTotal.Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(notificationType string) {
	m.NotificationsSentTotal.WithLabelValues(notificationType).Inc()
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(notificationType string) {
	m.NotificationFailuresTotal.WithLabelValues(notificationType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

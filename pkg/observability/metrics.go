package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageErrorsTotal     *prometheus.CounterVec
	PendingWrites          prometheus.Gauge
	QuotaRecoveriesTotal   prometheus.Counter
	RecordsCleanedTotal    prometheus.Counter
	StorageUsedBytes       prometheus.Gauge

	// Migration and backup metrics
	MigrationsTotal *prometheus.CounterVec
	BackupsTotal    *prometheus.CounterVec

	otel atomic.Pointer[OTelMetrics]
}

// WithOTel mirrors storage, migration and backup counters to om
func (m *Metrics) WithOTel(om *OTelMetrics) *Metrics {
	if m != nil {
		m.otel.Store(om)
	}
	return m
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_cache_hits_total",
			Help: "Total number of cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_cache_misses_total",
			Help: "Total number of cache misses",
		}),
		CacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_cache_evictions_total",
			Help: "Total number of capacity evictions",
		}),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "error_type"},
		),
		PendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keepsake_pending_writes",
			Help: "Number of debounced writes not yet persisted",
		}),
		QuotaRecoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_quota_recoveries_total",
			Help: "Total number of cleanups triggered by an exhausted quota",
		}),
		RecordsCleanedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_records_cleaned_total",
			Help: "Total number of records removed by cleanup",
		}),
		StorageUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keepsake_storage_used_bytes",
			Help: "Bytes used by the namespace at the last usage report",
		}),

		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_migrations_total",
				Help: "Total number of migrations run",
			},
			[]string{"version", "status"},
		),
		BackupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_backup_operations_total",
				Help: "Total number of backup operations",
			},
			[]string{"operation", "status"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.StorageOperationsTotal,
		m.StorageErrorsTotal,
		m.PendingWrites,
		m.QuotaRecoveriesTotal,
		m.RecordsCleanedTotal,
		m.StorageUsedBytes,
		m.MigrationsTotal,
		m.BackupsTotal,
	)

	return m
}

// CacheHit records a cache hit
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

// CacheMiss records a cache miss
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

// CacheEviction records a capacity eviction
func (m *Metrics) CacheEviction() {
	if m != nil {
		m.CacheEvictionsTotal.Inc()
	}
}

// StorageOp records the outcome of a storage operation
func (m *Metrics) StorageOp(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	if om := m.otel.Load(); om != nil {
		om.storageOp(operation, err)
	}
}

// StorageError records a classified storage error
func (m *Metrics) StorageError(operation, errorType string) {
	if m != nil {
		m.StorageErrorsTotal.WithLabelValues(operation, errorType).Inc()
	}
}

// SetPendingWrites sets the pending write gauge
func (m *Metrics) SetPendingWrites(n int) {
	if m != nil {
		m.PendingWrites.Set(float64(n))
	}
}

// QuotaRecovery records a cleanup triggered by an exhausted quota
func (m *Metrics) QuotaRecovery() {
	if m != nil {
		m.QuotaRecoveriesTotal.Inc()
	}
}

// RecordsCleaned records the number of records removed by cleanup
func (m *Metrics) RecordsCleaned(n int) {
	if m != nil {
		m.RecordsCleanedTotal.Add(float64(n))
	}
}

// SetStorageUsed sets the storage usage gauge
func (m *Metrics) SetStorageUsed(bytes int64) {
	if m != nil {
		m.StorageUsedBytes.Set(float64(bytes))
	}
}

// Migration records the outcome of a single migration
func (m *Metrics) Migration(version string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MigrationsTotal.WithLabelValues(version, status).Inc()
	if om := m.otel.Load(); om != nil {
		om.migration(version, err)
	}
}

// BackupOp records the outcome of a backup operation
func (m *Metrics) BackupOp(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackupsTotal.WithLabelValues(operation, status).Inc()
	if om := m.otel.Load(); om != nil {
		om.backupOp(operation, err)
	}
}

// MetricsHandler returns the Prometheus scrape handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Failure reasons used as the files_failed_total label.
const (
	ReasonDecode  = "decode"
	ReasonWrite   = "write"
	ReasonTimeout = "timeout"
	ReasonOther   = "other"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the batch.
type Metrics struct {
	FilesProcessed prometheus.Counter
	FilesSkipped   prometheus.Counter
	FilesFailed    *prometheus.CounterVec // labels: reason={decode,write,timeout,other}
	BatchRunning   prometheus.Gauge

	// Per-sweep metrics.
	SweepsGridded      prometheus.Counter
	GeometryFallbacks  prometheus.Counter
	FileProcessingTime prometheus.Histogram

	NotificationsFailed prometheus.Counter
}

// NewMetrics creates and registers all batch metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_grid",
			Name:      "files_processed_total",
			Help:      "Scan files converted to artifacts.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_grid",
			Name:      "files_skipped_total",
			Help:      "Scan files skipped because their artifact already exists.",
		}),
		FilesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_grid",
			Name:      "files_failed_total",
			Help:      "Scan files that produced no artifact, by reason.",
		}, []string{"reason"}),
		BatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radar_grid",
			Name:      "batch_running",
			Help:      "1 while a batch traversal is active, 0 otherwise.",
		}),
		SweepsGridded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_grid",
			Name:      "sweeps_gridded_total",
			Help:      "Sweeps projected onto the grid.",
		}),
		GeometryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_grid",
			Name:      "geometry_fallbacks_total",
			Help:      "Sweeps replaced by an all-invalid field after a geometry error.",
		}),
		FileProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_grid",
			Name:      "file_processing_duration_seconds",
			Help:      "Duration of decode, grid, reduce and write for one scan file.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_grid",
			Name:      "notifications_failed_total",
			Help:      "Artifact notifications that could not be published.",
		}),
	}

	prometheus.MustRegister(
		m.FilesProcessed,
		m.FilesSkipped,
		m.FilesFailed,
		m.BatchRunning,
		m.SweepsGridded,
		m.GeometryFallbacks,
		m.FileProcessingTime,
		m.NotificationsFailed,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FilesProcessed:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_grid", Name: "files_processed_total"}),
		FilesSkipped:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_grid", Name: "files_skipped_total"}),
		FilesFailed:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_grid", Name: "files_failed_total"}, []string{"reason"}),
		BatchRunning:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "radar_grid", Name: "batch_running"}),
		SweepsGridded:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_grid", Name: "sweeps_gridded_total"}),
		GeometryFallbacks:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_grid", Name: "geometry_fallbacks_total"}),
		FileProcessingTime:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_grid", Name: "file_processing_duration_seconds"}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_grid", Name: "notifications_failed_total"}),
	}
}

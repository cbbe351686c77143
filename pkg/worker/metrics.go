package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanket-mindstix/liota/metric"
)

const metricsService = "worker_pool"

// poolMetrics exports pool traffic as liota_<prefix>_* series.
type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

// newPoolMetrics registers the pool series. It returns nil when any series
// cannot be registered, leaving the pool unobserved rather than half-observed.
func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liota",
			Name:      prefix + "_" + name,
			Help:      help,
		})
	}

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "liota",
			Name:      prefix + "_queue_depth",
			Help:      "Work items waiting for a worker",
		}),
		submitted: counter("submitted_total", "Total work items submitted"),
		processed: counter("processed_total", "Total work items processed"),
		failed:    counter("failed_total", "Total work items that failed processing"),
		dropped:   counter("dropped_total", "Total work items dropped due to full queue"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "liota",
			Name:      prefix + "_processing_duration_seconds",
			Help:      "Time spent processing work items",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"status"}),
	}

	errs := []error{
		registry.RegisterGauge(metricsService, prefix+"_queue_depth", m.queueDepth),
		registry.RegisterCounter(metricsService, prefix+"_submitted_total", m.submitted),
		registry.RegisterCounter(metricsService, prefix+"_processed_total", m.processed),
		registry.RegisterCounter(metricsService, prefix+"_failed_total", m.failed),
		registry.RegisterCounter(metricsService, prefix+"_dropped_total", m.dropped),
		registry.RegisterHistogramVec(metricsService, prefix+"_processing_duration_seconds", m.duration),
	}
	for _, err := range errs {
		if err != nil {
			return nil
		}
	}
	return m
}

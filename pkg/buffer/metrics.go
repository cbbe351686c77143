package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanket-mindstix/liota/metric"
)

// queueMetrics exports queue statistics for one queue.
type queueMetrics struct {
	puts  prometheus.Counter
	taken prometheus.Counter
	drops prometheus.Counter
	size  prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, key string) (*queueMetrics, error) {
	labels := prometheus.Labels{"queue": key}
	m := &queueMetrics{
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "liota",
			Subsystem:   "queue",
			Name:        "puts_total",
			ConstLabels: labels,
			Help:        "Samples accepted by the queue",
		}),
		taken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "liota",
			Subsystem:   "queue",
			Name:        "drained_total",
			ConstLabels: labels,
			Help:        "Samples handed out by drains",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "liota",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Samples discarded by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "liota",
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current queue length",
		}),
	}

	service := "queue." + key
	if err := registry.RegisterCounter(service, "puts_total", m.puts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "drained_total", m.taken); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "drops_total", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}

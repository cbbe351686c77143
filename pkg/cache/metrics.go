package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanket-mindstix/liota/metric"
)

// cacheMetrics mirrors Statistics into Prometheus.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"cache": prefix}
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "liota",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: labels,
			Help:        "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "liota",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: labels,
			Help:        "Total number of cache misses",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "liota",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: labels,
			Help:        "Total number of entries evicted for capacity",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "liota",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of entries in cache",
		}),
	}

	if err := registry.RegisterCounter(prefix, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}

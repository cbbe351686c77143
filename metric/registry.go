package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sanket-mindstix/liota/errors"
)

// MetricsRegistry owns the Prometheus registry served by Server. Component
// metrics are keyed by service and metric name so they can be unregistered.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu         sync.Mutex
	components map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the gateway metrics and the Go
// runtime and process collectors already registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:       prometheus.NewRegistry(),
		core:       NewMetrics(),
		components: make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry, for gathering.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the gateway metrics, or nil for a nil registry.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.core
}

func (r *MetricsRegistry) RegisterCounter(service, name string, c prometheus.Counter) error {
	return r.Register(service, name, c)
}

func (r *MetricsRegistry) RegisterGauge(service, name string, g prometheus.Gauge) error {
	return r.Register(service, name, g)
}

func (r *MetricsRegistry) RegisterCounterVec(service, name string, v *prometheus.CounterVec) error {
	return r.Register(service, name, v)
}

func (r *MetricsRegistry) RegisterGaugeVec(service, name string, v *prometheus.GaugeVec) error {
	return r.Register(service, name, v)
}

func (r *MetricsRegistry) RegisterHistogramVec(service, name string, v *prometheus.HistogramVec) error {
	return r.Register(service, name, v)
}

// Register adds a component collector. Registering the same service and name
// twice, or a collector whose descriptors clash with an existing one, fails
// with an invalid-kind error.
func (r *MetricsRegistry) Register(service, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := service + "." + name
	if _, ok := r.components[key]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", name, service),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prom.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for metric "+name)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register with prometheus")
	}
	r.components[key] = c
	return nil
}

// Unregister removes a component collector. It reports whether one was removed.
func (r *MetricsRegistry) Unregister(service, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := service + "." + name
	c, ok := r.components[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.components, key)
	return true
}

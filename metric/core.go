package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liota"

// Metrics contains the gateway-level metrics shared by transports, DCCs, the
// local cache and the sampling agent. All Record methods are no-ops on a nil
// receiver so components can run without a registry.
type Metrics struct {
	// Transport
	TransportStatus   *prometheus.GaugeVec
	ConnectionLost    *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec

	// Registration
	Registrations        *prometheus.CounterVec
	RegistrationAttempts *prometheus.CounterVec
	RegistrationDuration *prometheus.HistogramVec

	// Telemetry
	BatchesPublished *prometheus.CounterVec
	SamplesCollected *prometheus.CounterVec
	SamplesSkipped   *prometheus.CounterVec

	// Local cache
	CacheWrites *prometheus.CounterVec

	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TransportStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "status",
				Help:      "Transport status (0=disconnected, 1=connecting, 2=connected, 3=disconnecting)",
			},
			[]string{"transport"},
		),
		ConnectionLost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connection_lost_total",
				Help:      "Connections dropped by network errors while connected",
			},
			[]string{"transport"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "messages_published_total",
				Help:      "Messages handed to the transport for publishing",
			},
			[]string{"transport", "qos"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "messages_received_total",
				Help:      "Messages delivered to subscription handlers",
			},
			[]string{"transport"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dcc",
				Name:      "registrations_total",
				Help:      "Entity registrations by outcome",
			},
			[]string{"dcc", "kind", "status"},
		),
		RegistrationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dcc",
				Name:      "registration_attempts_total",
				Help:      "Registration requests sent, including polling resends",
			},
			[]string{"dcc"},
		),
		RegistrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dcc",
				Name:      "registration_duration_seconds",
				Help:      "Time from first registration request to resolution",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"dcc"},
		),
		BatchesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dcc",
				Name:      "batches_published_total",
				Help:      "Metric batches published by outcome",
			},
			[]string{"dcc", "status"},
		),
		SamplesCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "samples_collected_total",
				Help:      "Samples enqueued per metric",
			},
			[]string{"metric"},
		),
		SamplesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "samples_skipped_total",
				Help:      "Sampler invocations that produced no value",
			},
			[]string{"metric"},
		),
		CacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "writes_total",
				Help:      "Local cache updates by outcome",
			},
			[]string{"dcc", "status"},
		),
		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Component health (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.TransportStatus,
		c.ConnectionLost,
		c.MessagesPublished,
		c.MessagesReceived,
		c.Registrations,
		c.RegistrationAttempts,
		c.RegistrationDuration,
		c.BatchesPublished,
		c.SamplesCollected,
		c.SamplesSkipped,
		c.CacheWrites,
		c.HealthCheckStatus,
	}
}

// RecordTransportStatus records the numeric transport status.
func (c *Metrics) RecordTransportStatus(transport string, status int) {
	if c == nil {
		return
	}
	c.TransportStatus.WithLabelValues(transport).Set(float64(status))
}

// RecordConnectionLost counts an unexpected disconnect.
func (c *Metrics) RecordConnectionLost(transport string) {
	if c == nil {
		return
	}
	c.ConnectionLost.WithLabelValues(transport).Inc()
}

// RecordMessagePublished counts a publish at the given QoS.
func (c *Metrics) RecordMessagePublished(transport string, qos byte) {
	if c == nil {
		return
	}
	c.MessagesPublished.WithLabelValues(transport, strconv.Itoa(int(qos))).Inc()
}

// RecordMessageReceived counts a delivered message.
func (c *Metrics) RecordMessageReceived(transport string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(transport).Inc()
}

// RecordRegistration records the outcome and duration of a registration.
func (c *Metrics) RecordRegistration(dcc, kind string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.Registrations.WithLabelValues(dcc, kind, status).Inc()
	c.RegistrationDuration.WithLabelValues(dcc).Observe(duration.Seconds())
}

// RecordRegistrationAttempt counts one registration request on the wire.
func (c *Metrics) RecordRegistrationAttempt(dcc string) {
	if c == nil {
		return
	}
	c.RegistrationAttempts.WithLabelValues(dcc).Inc()
}

// RecordBatch records a batch publish outcome.
func (c *Metrics) RecordBatch(dcc string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.BatchesPublished.WithLabelValues(dcc, status).Inc()
}

// RecordSample records a sampler invocation.
func (c *Metrics) RecordSample(metricName string, produced bool) {
	if c == nil {
		return
	}
	if produced {
		c.SamplesCollected.WithLabelValues(metricName).Inc()
		return
	}
	c.SamplesSkipped.WithLabelValues(metricName).Inc()
}

// RecordCacheWrite records a local cache update outcome.
func (c *Metrics) RecordCacheWrite(dcc string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.CacheWrites.WithLabelValues(dcc, status).Inc()
}

// RecordHealthStatus records component health.
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

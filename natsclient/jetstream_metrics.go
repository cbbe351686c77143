package natsclient

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanket-mindstix/liota/metric"
)

// jetstreamMetrics exports the state of the sample stream, its durable
// subscriptions and outstanding async publishes. A nil *jetstreamMetrics is
// a no-op.
type jetstreamMetrics struct {
	streamMessages      *prometheus.GaugeVec
	streamBytes         *prometheus.GaugeVec
	consumerPending     *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec
	pendingAcks         prometheus.Gauge
	errors              *prometheus.CounterVec

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	gauges := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "liota", Subsystem: "jetstream", Name: name, Help: help,
		}, labels)
	}

	m := &jetstreamMetrics{
		streamMessages:      gauges("stream_messages", "Messages held in the sample stream", "stream"),
		streamBytes:         gauges("stream_bytes", "Storage bytes used by the sample stream", "stream"),
		consumerPending:     gauges("consumer_pending_messages", "Messages not yet delivered to a durable subscription", "stream", "consumer"),
		consumerRedelivered: gauges("consumer_redelivered_messages", "Messages redelivered to a durable subscription", "stream", "consumer"),
		pendingAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "liota", Subsystem: "jetstream", Name: "publish_pending_acks",
			Help: "Asynchronous publishes awaiting acknowledgement",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liota", Subsystem: "jetstream", Name: "operation_errors_total",
			Help: "JetStream operation errors",
		}, []string{"operation"}),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	for name, c := range map[string]prometheus.Collector{
		"stream_messages":      m.streamMessages,
		"stream_bytes":         m.streamBytes,
		"consumer_pending":     m.consumerPending,
		"consumer_redelivered": m.consumerRedelivered,
		"publish_pending_acks": m.pendingAcks,
		"errors":               m.errors,
	} {
		if err := registry.Register("jetstream", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.streams[name] = stream
	m.mu.Unlock()
}

func (m *jetstreamMetrics) trackConsumer(stream, name string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.consumers[stream+":"+name] = consumer
	m.mu.Unlock()
}

func (m *jetstreamMetrics) recordError(op string) {
	if m != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

// refresh reads stream and consumer info. Entries whose info cannot be
// fetched keep their previous values.
func (m *jetstreamMetrics) refresh(ctx context.Context, js jetstream.JetStream) {
	if js != nil {
		m.pendingAcks.Set(float64(js.PublishAsyncPending()))
	}

	m.mu.RLock()
	streams := maps.Clone(m.streams)
	consumers := slices.Collect(maps.Values(m.consumers))
	m.mu.RUnlock()

	for name, stream := range streams {
		if info, err := stream.Info(ctx); err == nil {
			m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
			m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		}
	}
	for _, consumer := range consumers {
		if info, err := consumer.Info(ctx); err == nil {
			m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
			m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumRedelivered))
		}
	}
}

// startPoller refreshes every interval until the returned cancel is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration, js jetstream.JetStream) context.CancelFunc {
	if m == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refresh(ctx, js)
			}
		}
	}()
	return cancel
}

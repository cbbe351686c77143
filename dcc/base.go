package dcc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sanket-mindstix/liota/dcccomms"
	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/buffer"
	"github.com/sanket-mindstix/liota/transport"
	"github.com/sanket-mindstix/liota/unit"
)

// Option configures the shared provider state.
type Option func(*Base)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.Logger = logger
		}
	}
}

// WithMetricsRegistry records gateway metrics and per-metric queue gauges.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(b *Base) {
		b.registry = registry
		b.Metrics = registry.CoreMetrics()
	}
}

// Base carries what every provider needs. Providers embed it.
type Base struct {
	Comms   dcccomms.Comms
	Logger  *slog.Logger
	Metrics *metric.Metrics

	name     string
	registry *metric.MetricsRegistry

	mu    sync.RWMutex
	attrs map[string]*transport.MessagingAttributes
}

// NewBase binds a provider name to comms.
func NewBase(name string, comms dcccomms.Comms, opts ...Option) (*Base, error) {
	if comms == nil {
		return nil, errors.Configf(name, "New", "comms is nil")
	}

	b := &Base{
		Comms:  comms,
		Logger: slog.Default(),
		name:   name,
		attrs:  make(map[string]*transport.MessagingAttributes),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Logger = b.Logger.With("component", "dcc", "dcc", name)
	return b, nil
}

// Name returns the provider name.
func (b *Base) Name() string { return b.name }

// RegisterMetric creates the local handle for a metric entity.
func (b *Base) RegisterMetric(e *entity.Entity) (*entity.Registered, error) {
	var (
		reg *entity.Registered
		err error
	)
	dropped := buffer.WithDropCallback[entity.Sample](func(s entity.Sample) {
		b.Logger.Debug("sample dropped", "entity", e.Name(), "timestamp", s.Timestamp, "value", s.Value)
	})
	if b.registry != nil {
		reg, err = entity.NewRegisteredMetric(e, dropped, buffer.WithMetrics[entity.Sample](b.registry, b.name+"_"+e.Name()))
		if err != nil {
			// a metric name reused under another parent already owns the gauges
			b.Logger.Debug("queue metrics unavailable", "entity", e.Name(), "error", err)
			reg = nil
		}
	}
	if reg == nil {
		if reg, err = entity.NewRegisteredMetric(e, dropped); err != nil {
			return nil, err
		}
	}
	b.Logger.Debug("metric registered locally", "entity", e.Name())
	return reg, nil
}

// SetMetricAttributes routes batches of metric to attrs instead of the
// provider's default publish topic. nil clears the override.
func (b *Base) SetMetricAttributes(metric *entity.Entity, attrs *transport.MessagingAttributes) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if attrs == nil {
		delete(b.attrs, metric.ID())
		return
	}
	b.attrs[metric.ID()] = attrs
}

// MetricAttributes returns the override for metric, or nil.
func (b *Base) MetricAttributes(metric *entity.Entity) *transport.MessagingAttributes {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attrs[metric.ID()]
}

// PublishBatch formats metric with format and sends the result. Unlinked
// metrics fail with errors.ErrNotLinked; an empty queue sends nothing.
func (b *Base) PublishBatch(ctx context.Context, m *entity.Registered, format func(*entity.Registered) ([]byte, error)) error {
	if m == nil || m.Kind() != entity.KindMetric {
		return errors.KindError(b.name, "Publish", "%v is not a registered metric", m)
	}
	if m.Parent() == nil {
		return errors.WrapInvalid(errors.ErrNotLinked, b.name, "Publish", m.Name())
	}

	payload, err := format(m)
	if err != nil {
		b.Metrics.RecordBatch(b.name, err)
		return err
	}
	if payload == nil {
		return nil
	}

	err = b.Comms.Send(ctx, payload, b.MetricAttributes(m.Entity()))
	b.Metrics.RecordBatch(b.name, err)
	if err != nil {
		return errors.WrapTransient(err, b.name, "Publish", "send batch for "+m.Name())
	}

	b.Logger.Debug("batch published", "entity", m.Name(), "reg_id", m.RegID(), "bytes", len(payload))
	return nil
}

// Close closes the comms channel.
func (b *Base) Close(ctx context.Context) error {
	return b.Comms.Close(ctx)
}

// UnitProperties returns the unit metadata published for a metric:
// <metric>_unit and <metric>_prefix. A metric without a unit gets both keys
// with empty values. ok is false when metric is not a metric.
func UnitProperties(metric *entity.Entity) (props map[string]string, ok bool) {
	spec, isMetric := metric.Metric()
	if !isMetric {
		return nil, false
	}

	var u unit.Unit
	if spec.Unit != "" {
		// unrecognized descriptors come back verbatim as the name
		u, _ = unit.Parse(spec.Unit)
	}
	return map[string]string{
		metric.Name() + "_unit":   u.Name,
		metric.Name() + "_prefix": u.Prefix,
	}, true
}

// UnitString returns prefix+name for the metric's unit, or "null" when it
// has none.
func UnitString(metric *entity.Entity) string {
	spec, ok := metric.Metric()
	if !ok || spec.Unit == "" {
		return "null"
	}
	u, _ := unit.Parse(spec.Unit)
	return u.String()
}

package buffer

import (
	"github.com/sanket-mindstix/liota/metric"
)

// Option configures queue behavior.
type Option[T any] func(*queueOptions[T])

type queueOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// optional; when set queue statistics are also exported to Prometheus
	metricsReg *metric.MetricsRegistry
	metricsKey string
}

// WithOverflowPolicy sets the overflow behavior for bounded queues.
// Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *queueOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports queue statistics under the given metric label. A nil
// registry or empty key is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, key string) Option[T] {
	return func(opts *queueOptions[T]) {
		if registry != nil && key != "" {
			opts.metricsReg = registry
			opts.metricsKey = key
		}
	}
}

// WithDropCallback sets a callback invoked for every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *queueOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *queueOptions[T] {
	opts := &queueOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

package entity

import (
	"fmt"
	"sync"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/pkg/buffer"
)

// Sample is one metric reading.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Registered is the handle produced by registering an Entity with one DCC.
//
// For a metric, RegID is the id of the parent it was attached to; it is empty
// until Attach runs. Metrics also own the sample queue.
type Registered struct {
	ref *Entity

	mu     sync.RWMutex
	regID  string
	parent *Registered

	samples *buffer.Queue[Sample]
}

// NewRegistered wraps an edge system or device with its cloud id.
func NewRegistered(ref *Entity, regID string) (*Registered, error) {
	if ref == nil {
		return nil, errors.KindError("Registered", "NewRegistered", "nil entity")
	}
	switch ref.Kind() {
	case KindEdgeSystem, KindDevice:
	case KindMetric:
		return nil, errors.KindError("Registered", "NewRegistered", "%s must use NewRegisteredMetric", ref)
	default:
		return nil, errors.KindError("Registered", "NewRegistered", "unknown kind %s", ref.Kind())
	}
	if regID == "" || regID == "null" {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: empty cloud id", ref),
			"Registered", "NewRegistered", "check id")
	}
	return &Registered{ref: ref, regID: regID}, nil
}

// NewRegisteredMetric wraps a metric. The handle has no parent and no cloud id
// until Attach runs. Extra queue options, such as metrics export, are applied
// after the spec's capacity and overflow policy.
func NewRegisteredMetric(ref *Entity, opts ...buffer.Option[Sample]) (*Registered, error) {
	if ref == nil {
		return nil, errors.KindError("Registered", "NewRegisteredMetric", "nil entity")
	}
	spec, ok := ref.Metric()
	if !ok {
		return nil, errors.KindError("Registered", "NewRegisteredMetric", "%s is not a metric", ref)
	}

	queueOpts := append([]buffer.Option[Sample]{buffer.WithOverflowPolicy[Sample](spec.OverflowPolicy)}, opts...)
	q, err := buffer.NewQueue(spec.QueueCapacity, queueOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Registered", "NewRegisteredMetric", "create sample queue")
	}
	return &Registered{ref: ref, samples: q}, nil
}

// Entity returns the originating entity.
func (r *Registered) Entity() *Entity { return r.ref }

// Kind returns the entity kind.
func (r *Registered) Kind() Kind { return r.ref.Kind() }

// Name returns the entity name.
func (r *Registered) Name() string { return r.ref.Name() }

// RegID returns the cloud id. For metrics this is the parent's id.
func (r *Registered) RegID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regID
}

// Parent returns the parent handle, or nil before Attach.
func (r *Registered) Parent() *Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parent
}

// Put appends a sample to a metric's queue.
func (r *Registered) Put(s Sample) error {
	if r.samples == nil {
		return errors.KindError("Registered", "Put", "%s has no sample queue", r.ref)
	}
	return r.samples.Put(s)
}

// Drain takes every queued sample. It returns nil when there is nothing to
// send, and always nil for non-metrics.
func (r *Registered) Drain() []Sample {
	if r.samples == nil {
		return nil
	}
	return r.samples.Drain()
}

// Pending returns the number of queued samples.
func (r *Registered) Pending() int {
	if r.samples == nil {
		return 0
	}
	return r.samples.Len()
}

// Close stops accepting samples.
func (r *Registered) Close() error {
	if r.samples == nil {
		return nil
	}
	return r.samples.Close()
}

// String implements fmt.Stringer.
func (r *Registered) String() string {
	return fmt.Sprintf("%s[%s]", r.ref, r.RegID())
}

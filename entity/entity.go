package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/pkg/buffer"
)

// Kind discriminates the entity variants. Code that behaves differently per
// variant switches on Kind exhaustively.
type Kind int

const (
	KindEdgeSystem Kind = iota + 1
	KindDevice
	KindMetric
)

// String returns the canonical kind name.
func (k Kind) String() string {
	switch k {
	case KindEdgeSystem:
		return "EdgeSystem"
	case KindDevice:
		return "Device"
	case KindMetric:
		return "Metric"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// idNamespace scopes deterministic entity ids.
var idNamespace = uuid.MustParse("4c3e8a2e-7a43-5b8e-9a51-6c1d0f6f2a10")

// Sampler produces one metric value. It reports false when no value is
// available this round.
type Sampler func() (float64, bool)

// MetricSpec describes how a metric is sampled and batched.
type MetricSpec struct {
	// Unit is a unit descriptor understood by package unit; empty means none.
	Unit            string
	Interval        time.Duration
	AggregationSize int
	Sampler         Sampler

	// QueueCapacity bounds the sample queue; zero is unbounded.
	QueueCapacity  int
	OverflowPolicy buffer.OverflowPolicy
}

// Entity is an immutable local identity record. It does not know whether or
// where it is registered.
type Entity struct {
	id         string
	name       string
	entityType string
	kind       Kind
	metric     *MetricSpec
}

// Option customizes entity construction.
type Option func(*Entity)

// WithID overrides the deterministic id.
func WithID(id string) Option {
	return func(e *Entity) {
		if id != "" {
			e.id = id
		}
	}
}

// NewEdgeSystem creates the root entity of a gateway.
func NewEdgeSystem(name string, opts ...Option) (*Entity, error) {
	return newEntity(KindEdgeSystem, name, KindEdgeSystem.String(), nil, opts)
}

// NewDevice creates a device. deviceType is the provider-facing type tag, for
// example "SimulatedDevice"; it defaults to "Device".
func NewDevice(name, deviceType string, opts ...Option) (*Entity, error) {
	if deviceType == "" {
		deviceType = KindDevice.String()
	}
	return newEntity(KindDevice, name, deviceType, nil, opts)
}

// NewMetric creates a metric. AggregationSize defaults to 1.
func NewMetric(name string, spec MetricSpec, opts ...Option) (*Entity, error) {
	if spec.Interval <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("metric %q: interval must be positive", name),
			"Entity", "NewMetric", "validate spec")
	}
	if spec.AggregationSize < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("metric %q: aggregation size must not be negative", name),
			"Entity", "NewMetric", "validate spec")
	}
	if spec.AggregationSize == 0 {
		spec.AggregationSize = 1
	}
	return newEntity(KindMetric, name, KindMetric.String(), &spec, opts)
}

func newEntity(kind Kind, name, entityType string, spec *MetricSpec, opts []Option) (*Entity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%s name is empty", kind), "Entity", "New", "validate name")
	}

	e := &Entity{
		id:         uuid.NewSHA1(idNamespace, []byte(kind.String()+":"+name)).String(),
		name:       name,
		entityType: entityType,
		kind:       kind,
		metric:     spec,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ID returns the stable local id.
func (e *Entity) ID() string { return e.id }

// Name returns the human-readable name.
func (e *Entity) Name() string { return e.name }

// Type returns the entity type tag: "EdgeSystem", the device type, or "Metric".
func (e *Entity) Type() string { return e.entityType }

// Kind returns the variant.
func (e *Entity) Kind() Kind { return e.kind }

// Metric returns the metric spec; ok is false for non-metric entities.
func (e *Entity) Metric() (spec MetricSpec, ok bool) {
	if e.metric == nil {
		return MetricSpec{}, false
	}
	return *e.metric, true
}

// String implements fmt.Stringer.
func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.kind, e.name)
}

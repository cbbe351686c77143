package agent

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/pkg/timestamp"
)

// Simulation kinds.
const (
	SimConstant   = "constant"
	SimSine       = "sine"
	SimRandomWalk = "random_walk"
)

// Simulation describes a synthetic sampler for gateways without attached
// sensors.
type Simulation struct {
	Kind string `json:"kind"`

	// Value is the constant value, the sine offset or the walk's start.
	Value     float64       `json:"value"`
	Amplitude float64       `json:"amplitude,omitempty"`
	Period    time.Duration `json:"period,omitempty"`

	// Step bounds one random walk move in either direction. Min and Max clamp
	// the walk when Max > Min.
	Step float64 `json:"step,omitempty"`
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Seed uint64  `json:"seed,omitempty"`
}

// Validate checks the parameters required by Kind.
func (s Simulation) Validate() error {
	switch s.Kind {
	case SimConstant:
		return nil
	case SimSine:
		if s.Period <= 0 {
			return errors.Configf("agent", "Simulation", "sine period must be positive")
		}
		return nil
	case SimRandomWalk:
		if s.Step <= 0 {
			return errors.Configf("agent", "Simulation", "random walk step must be positive")
		}
		if s.Max < s.Min {
			return errors.Configf("agent", "Simulation", "random walk max %v is below min %v", s.Max, s.Min)
		}
		return nil
	default:
		return errors.Configf("agent", "Simulation", "unknown simulation kind %q", s.Kind)
	}
}

// Sampler builds the sampler. clock drives the sine phase; nil means the
// system clock.
func (s Simulation) Sampler(clock timestamp.Clock) (entity.Sampler, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timestamp.SystemClock
	}

	switch s.Kind {
	case SimSine:
		period := s.Period.Seconds()
		return func() (float64, bool) {
			t := float64(clock().UnixNano()) / float64(time.Second)
			return s.Value + s.Amplitude*math.Sin(2*math.Pi*t/period), true
		}, nil
	case SimRandomWalk:
		w := &walk{sim: s, current: s.Value, rnd: rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))}
		return w.next, nil
	default:
		v := s.Value
		return func() (float64, bool) { return v, true }, nil
	}
}

type walk struct {
	sim     Simulation
	mu      sync.Mutex
	current float64
	rnd     *rand.Rand
}

func (w *walk) next() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current += (w.rnd.Float64()*2 - 1) * w.sim.Step
	if w.sim.Max > w.sim.Min {
		w.current = math.Max(w.sim.Min, math.Min(w.sim.Max, w.current))
	}
	return w.current, true
}

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/errors"
)

func TestSimulation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sim     Simulation
		wantErr bool
	}{
		{"constant", Simulation{Kind: SimConstant, Value: 3}, false},
		{"sine", Simulation{Kind: SimSine, Period: time.Minute}, false},
		{"sine without period", Simulation{Kind: SimSine}, true},
		{"walk", Simulation{Kind: SimRandomWalk, Step: 1, Min: 0, Max: 10}, false},
		{"walk without step", Simulation{Kind: SimRandomWalk}, true},
		{"walk inverted bounds", Simulation{Kind: SimRandomWalk, Step: 1, Min: 10, Max: 0}, true},
		{"unknown", Simulation{Kind: "square"}, true},
		{"empty", Simulation{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sim.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSimulation_Constant(t *testing.T) {
	s, err := Simulation{Kind: SimConstant, Value: 42}.Sampler(nil)
	require.NoError(t, err)

	v, ok := s()
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestSimulation_Sine(t *testing.T) {
	at := time.Unix(0, 0)
	clock := func() time.Time { return at }
	s, err := Simulation{Kind: SimSine, Value: 20, Amplitude: 5, Period: time.Minute}.Sampler(clock)
	require.NoError(t, err)

	v, _ := s()
	assert.InDelta(t, 20.0, v, 1e-9)

	at = time.Unix(15, 0)
	v, _ = s()
	assert.InDelta(t, 25.0, v, 1e-9)

	at = time.Unix(45, 0)
	v, _ = s()
	assert.InDelta(t, 15.0, v, 1e-9)
}

func TestSimulation_RandomWalk(t *testing.T) {
	sim := Simulation{Kind: SimRandomWalk, Value: 5, Step: 2, Min: 0, Max: 10, Seed: 7}

	a, err := sim.Sampler(nil)
	require.NoError(t, err)
	b, err := sim.Sampler(nil)
	require.NoError(t, err)

	prev := sim.Value
	for range 200 {
		va, ok := a()
		require.True(t, ok)
		vb, _ := b()
		assert.Equal(t, va, vb, "same seed walks the same path")
		assert.GreaterOrEqual(t, va, 0.0)
		assert.LessOrEqual(t, va, 10.0)
		assert.LessOrEqual(t, va-prev, 2.0)
		assert.GreaterOrEqual(t, va-prev, -2.0)
		prev = va
	}
}

func TestSimulation_InvalidSampler(t *testing.T) {
	_, err := Simulation{Kind: SimSine}.Sampler(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

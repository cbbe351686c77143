package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]entity.Sample
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, m *entity.Registered) error {
	samples := m.Drain()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, samples)
	return nil
}

func (f *fakePublisher) published() [][]entity.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]entity.Sample(nil), f.batches...)
}

func linkedMetric(t *testing.T, name string, spec entity.MetricSpec) *entity.Registered {
	t.Helper()
	edge, err := entity.NewEdgeSystem("EdgeA")
	require.NoError(t, err)
	regEdge, err := entity.NewRegistered(edge, "E1")
	require.NoError(t, err)

	e, err := entity.NewMetric(name, spec)
	require.NoError(t, err)
	m, err := entity.NewRegisteredMetric(e)
	require.NoError(t, err)
	require.NoError(t, entity.Attach(regEdge, m))
	return m
}

func counter(values ...float64) entity.Sampler {
	var mu sync.Mutex
	i := 0
	return func() (float64, bool) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(values) {
			return 0, false
		}
		v := values[i]
		i++
		return v, true
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StopTimeout = time.Second
	cfg.StatsInterval = 0
	return cfg
}

// runAgent runs a until the test ends.
func runAgent(t *testing.T, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, a.Running, time.Second, 5*time.Millisecond)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no queue", func(c *Config) { c.QueueSize = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"no stop timeout", func(c *Config) { c.StopTimeout = 0 }},
		{"negative stats interval", func(c *Config) { c.StatsInterval = -time.Second }},
	}

	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = New(&fakePublisher{}, Config{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestSchedule_Errors(t *testing.T) {
	a, err := New(&fakePublisher{}, testConfig())
	require.NoError(t, err)

	edge, err := entity.NewEdgeSystem("EdgeA")
	require.NoError(t, err)
	regEdge, err := entity.NewRegistered(edge, "E1")
	require.NoError(t, err)

	assert.ErrorIs(t, a.Schedule(nil), errors.ErrInvalidEntityKind)
	assert.ErrorIs(t, a.Schedule(regEdge), errors.ErrInvalidEntityKind)

	noSampler := linkedMetric(t, "NoSampler", entity.MetricSpec{Interval: time.Second})
	assert.ErrorIs(t, a.Schedule(noSampler), errors.ErrInvalidConfig)

	fast := linkedMetric(t, "Fast", entity.MetricSpec{Interval: 100 * time.Millisecond, Sampler: counter(1)})
	assert.ErrorIs(t, a.Schedule(fast), errors.ErrInvalidConfig)

	e, err := entity.NewMetric("Loose", entity.MetricSpec{Interval: time.Second, Sampler: counter(1)})
	require.NoError(t, err)
	loose, err := entity.NewRegisteredMetric(e)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Schedule(loose), errors.ErrNotLinked)

	ok := linkedMetric(t, "Temp", entity.MetricSpec{Interval: time.Second, Sampler: counter(1)})
	require.NoError(t, a.Schedule(ok))
	err = a.Schedule(ok)
	assert.True(t, errors.IsInvalid(err), "duplicate schedule")
	assert.Equal(t, 1, a.Scheduled())

	a.Unschedule(ok)
	a.Unschedule(nil)
	assert.Zero(t, a.Scheduled())
}

func TestTick_AggregatesBeforePublishing(t *testing.T) {
	pub := &fakePublisher{}
	now := int64(1700000000000)
	a, err := New(pub, testConfig(), withNow(func() int64 { return now }))
	require.NoError(t, err)

	m := linkedMetric(t, "Temp", entity.MetricSpec{
		Interval:        time.Hour,
		AggregationSize: 3,
		Sampler:         counter(1, 2, 3, 4),
	})
	require.NoError(t, a.Schedule(m))
	runAgent(t, a)

	j := a.jobs[m.Entity().ID()]
	a.tick(j)
	a.tick(j)
	assert.Equal(t, 2, m.Pending())
	assert.Empty(t, pub.published())

	a.tick(j)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []entity.Sample{
		{Timestamp: now, Value: 1},
		{Timestamp: now, Value: 2},
		{Timestamp: now, Value: 3},
	}, pub.published()[0])

	a.tick(j)
	assert.Equal(t, 1, m.Pending(), "next batch starts counting again")
}

func TestTick_SkipsMissingValues(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	a, err := New(&fakePublisher{}, testConfig(), WithMetricsRegistry(registry))
	require.NoError(t, err)

	m := linkedMetric(t, "Temp", entity.MetricSpec{Interval: time.Hour, Sampler: counter()})
	require.NoError(t, a.Schedule(m))

	a.tick(a.jobs[m.Entity().ID()])
	assert.Zero(t, m.Pending())
}

func TestTick_ClosedMetricIsUnscheduled(t *testing.T) {
	a, err := New(&fakePublisher{}, testConfig())
	require.NoError(t, err)

	m := linkedMetric(t, "Temp", entity.MetricSpec{Interval: time.Hour, AggregationSize: 2, Sampler: counter(1, 2)})
	require.NoError(t, a.Schedule(m))
	j := a.jobs[m.Entity().ID()]

	a.tick(j)
	require.NoError(t, m.Close())
	a.tick(j)

	assert.Zero(t, a.Scheduled())
	assert.Equal(t, 1, m.Pending(), "queued samples stay queued")
}

func TestPublishFailures_AreCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.ErrNoConnection}
	a, err := New(pub, testConfig())
	require.NoError(t, err)

	m := linkedMetric(t, "Temp", entity.MetricSpec{Interval: time.Hour, Sampler: counter(1)})
	require.NoError(t, a.Schedule(m))
	runAgent(t, a)

	a.tick(a.jobs[m.Entity().ID()])
	require.Eventually(t, func() bool { return a.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, m.Pending(), "failed batches are not replayed")
}

func TestRun_Twice(t *testing.T) {
	a, err := New(&fakePublisher{}, testConfig())
	require.NoError(t, err)
	runAgent(t, a)

	err = a.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestRun_SamplesOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the scheduler")
	}

	pub := &fakePublisher{}
	a, err := New(pub, testConfig())
	require.NoError(t, err)

	m := linkedMetric(t, "Temp", entity.MetricSpec{Interval: time.Second, AggregationSize: 1, Sampler: counter(7, 8, 9)})
	require.NoError(t, a.Schedule(m))
	runAgent(t, a)

	require.Eventually(t, func() bool { return len(pub.published()) >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, 7.0, pub.published()[0][0].Value)
}

// Package agent drives metric collection: it samples each scheduled metric on
// its interval, and once a metric has aggregated enough samples hands it to a
// rate-limited publish pool that calls the DCC.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sanket-mindstix/liota/entity"
	"github.com/sanket-mindstix/liota/errors"
	"github.com/sanket-mindstix/liota/metric"
	"github.com/sanket-mindstix/liota/pkg/timestamp"
	"github.com/sanket-mindstix/liota/pkg/worker"
)

// Publisher sends one batch for a metric. Every dcc.DCC is a Publisher.
type Publisher interface {
	Publish(ctx context.Context, metric *entity.Registered) error
}

// Config sizes the publish pool.
type Config struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	// RateLimit caps published batches per second; zero is unlimited.
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
	// StopTimeout bounds the drain of queued batches on shutdown.
	StopTimeout time.Duration `json:"stop_timeout"`
	// StatsInterval is how often pool statistics are logged; zero disables it.
	StatsInterval time.Duration `json:"stats_interval"`
}

// DefaultConfig returns a small unthrottled pool.
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		QueueSize:     256,
		Burst:         1,
		StopTimeout:   10 * time.Second,
		StatsInterval: time.Minute,
	}
}

// Validate checks bounds.
func (c Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return errors.Configf("agent", "Validate", "workers and queue_size must be positive")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return errors.Configf("agent", "Validate", "rate_limit and burst must not be negative")
	}
	if c.StopTimeout <= 0 {
		return errors.Configf("agent", "Validate", "stop_timeout must be positive")
	}
	if c.StatsInterval < 0 {
		return errors.Configf("agent", "Validate", "stats_interval must not be negative")
	}
	return nil
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetricsRegistry records sample counters and publish pool metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(a *Agent) {
		a.registry = registry
		if registry != nil {
			a.metrics = registry.CoreMetrics()
		}
	}
}

func withNow(now func() int64) Option {
	return func(a *Agent) { a.now = now }
}

type job struct {
	metric  *entity.Registered
	sampler entity.Sampler
	size    int
	entryID cron.EntryID

	mu    sync.Mutex
	count int
}

// ready counts one sample and reports whether a batch is complete.
func (j *job) ready() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.count++
	if j.count < j.size {
		return false
	}
	j.count = 0
	return true
}

// Agent schedules samplers and publishes aggregated batches.
type Agent struct {
	cfg      Config
	pub      Publisher
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	now      func() int64

	cron *cron.Cron
	pool *worker.Pool[*entity.Registered]

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
}

// New builds an agent publishing through pub.
func New(pub Publisher, cfg Config, opts ...Option) (*Agent, error) {
	if pub == nil {
		return nil, errors.Configf("Agent", "New", "publisher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:    cfg,
		pub:    pub,
		logger: slog.Default(),
		now:    timestamp.Now,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")

	cl := cronLogger{a.logger}
	a.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	poolOpts := []worker.Option[*entity.Registered]{
		worker.WithRateLimit[*entity.Registered](cfg.RateLimit, cfg.Burst),
		worker.WithErrorHandler(a.publishFailed),
	}
	if a.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*entity.Registered](a.registry, "publish"))
	}
	a.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, a.publish, poolOpts...)
	return a, nil
}

// Schedule starts sampling m every metric interval. m must be linked to its
// parent and carry a sampler. Intervals are whole seconds.
func (a *Agent) Schedule(m *entity.Registered) error {
	if m == nil || m.Kind() != entity.KindMetric {
		return errors.KindError("Agent", "Schedule", "%v is not a registered metric", m)
	}
	spec, _ := m.Entity().Metric()
	if spec.Sampler == nil {
		return errors.Configf("Agent", "Schedule", "metric %s has no sampler", m.Name())
	}
	if spec.Interval < time.Second {
		return errors.Configf("Agent", "Schedule", "metric %s interval %s is below one second", m.Name(), spec.Interval)
	}
	if m.Parent() == nil {
		return errors.WrapInvalid(errors.ErrNotLinked, "Agent", "Schedule", m.Name())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id := m.Entity().ID()
	if _, ok := a.jobs[id]; ok {
		return errors.WrapInvalid(fmt.Errorf("metric %s is already scheduled", m.Name()), "Agent", "Schedule", "add job")
	}

	j := &job{metric: m, sampler: spec.Sampler, size: spec.AggregationSize}
	entryID, err := a.cron.AddFunc(fmt.Sprintf("@every %s", spec.Interval), func() { a.tick(j) })
	if err != nil {
		return errors.WrapInvalid(err, "Agent", "Schedule", "add cron job")
	}
	j.entryID = entryID
	a.jobs[id] = j

	a.logger.Info("metric scheduled",
		"metric", m.Name(),
		"interval", spec.Interval,
		"aggregation_size", spec.AggregationSize)
	return nil
}

// Unschedule stops sampling m. Queued samples stay queued. A metric whose
// queue is closed is unscheduled on its next tick.
func (a *Agent) Unschedule(m *entity.Registered) {
	if m == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	id := m.Entity().ID()
	if j, ok := a.jobs[id]; ok {
		a.cron.Remove(j.entryID)
		delete(a.jobs, id)
		a.logger.Info("metric unscheduled", "metric", m.Name())
	}
}

// Scheduled returns the number of scheduled metrics.
func (a *Agent) Scheduled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

// Running reports whether Run has started the publish pool.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Stats returns publish pool statistics.
func (a *Agent) Stats() worker.PoolStats {
	return a.pool.Stats()
}

// Run samples and publishes until ctx is cancelled, then stops the scheduler
// and drains batches already queued for publishing.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Agent", "Run", "start")
	}
	// Publishing outlives ctx so queued batches drain on shutdown.
	if err := a.pool.Start(context.WithoutCancel(ctx)); err != nil {
		a.mu.Unlock()
		return errors.WrapFatal(err, "Agent", "Run", "start publish pool")
	}
	a.running = true
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.cron.Start()
		a.logger.Info("agent started", "metrics", a.Scheduled())
		<-gctx.Done()
		<-a.cron.Stop().Done()
		return nil
	})
	if a.cfg.StatsInterval > 0 {
		g.Go(func() error {
			a.reportStats(gctx)
			return nil
		})
	}
	_ = g.Wait()

	if err := a.pool.Stop(a.cfg.StopTimeout); err != nil {
		return errors.WrapTransient(err, "Agent", "Run", "drain publish pool")
	}
	a.logger.Info("agent stopped")
	return nil
}

func (a *Agent) tick(j *job) {
	name := j.metric.Name()
	v, ok := j.sampler()
	a.metrics.RecordSample(name, ok)
	if !ok {
		return
	}

	if err := j.metric.Put(entity.Sample{Timestamp: a.now(), Value: v}); err != nil {
		if errors.Is(err, errors.ErrShuttingDown) {
			// the metric was closed; stop sampling it
			a.Unschedule(j.metric)
			return
		}
		a.logger.Warn("sample rejected", "metric", name, "error", err)
		return
	}
	if !j.ready() {
		return
	}
	if err := a.pool.Submit(j.metric); err != nil {
		a.logger.Warn("batch not queued", "metric", name, "pending", j.metric.Pending(), "error", err)
	}
}

func (a *Agent) publish(ctx context.Context, m *entity.Registered) error {
	return a.pub.Publish(ctx, m)
}

func (a *Agent) publishFailed(m *entity.Registered, err error) {
	a.logger.Warn("batch publish failed", "metric", m.Name(), "reg_id", m.RegID(), "error", err)
}

func (a *Agent) reportStats(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.pool.Stats()
			a.logger.Debug("publish pool stats",
				"queue_depth", s.QueueDepth,
				"submitted", s.Submitted,
				"processed", s.Processed,
				"failed", s.Failed,
				"dropped", s.Dropped)
		}
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

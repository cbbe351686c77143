package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sanket-mindstix/liota/metric"
)

// Pool runs processor over submitted items on a fixed set of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	work    chan T
	wg      sync.WaitGroup
	metrics *poolMetrics
	limiter *rate.Limiter
	onError func(T, error)

	mu      sync.Mutex // guards started, stopped and sends on work
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports pool counters under liota_<prefix>_*.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		if registry != nil && prefix != "" {
			p.metrics = newPoolMetrics(registry, prefix)
		}
	}
}

// WithRateLimit throttles processing to r items per second with the given burst
// across all workers. A non-positive r disables throttling.
func WithRateLimit[T any](r float64, burst int) Option[T] {
	return func(p *Pool[T]) {
		if r <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithErrorHandler registers a callback invoked for every failed work item
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000. A nil processor panics.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		work:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues work. It fails with ErrQueueFull instead of blocking.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !p.started:
		return ErrPoolNotStarted
	case p.stopped:
		return ErrPoolStopped
	}

	select {
	case p.work <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.work)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Cancelling ctx makes them exit without
// draining the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Stop refuses new work and waits up to timeout for queued items to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.work)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.work),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.work:
			if !ok {
				return
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		status = "error"
		p.failed.Add(1)
		if p.onError != nil {
			p.onError(work, err)
		}
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		if err != nil {
			p.metrics.failed.Inc()
		}
		p.metrics.queueDepth.Set(float64(len(p.work)))
		p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

package buffer

import (
	"sync"

	"github.com/sanket-mindstix/liota/errors"
)

// Queue is a thread-safe FIFO. A capacity of zero makes it unbounded.
// Items are taken out only by Drain, which hands back everything queued at
// the time of the call.
type Queue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []T
	capacity int
	closed   bool

	stats   *Statistics
	metrics *queueMetrics
	opts    *queueOptions[T]
}

// NewQueue creates a queue. It fails only when metrics registration fails.
func NewQueue[T any](capacity int, options ...Option[T]) (*Queue[T], error) {
	if capacity < 0 {
		capacity = 0
	}

	opts := applyOptions(options...)

	var metrics *queueMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsKey)
		if err != nil {
			return nil, errors.WrapTransient(err, "Queue", "NewQueue", "metrics registration")
		}
	}

	q := &Queue[T]{
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	q.notFull = sync.NewCond(&q.mu)
	return q, nil
}

// Put appends an item. On a full bounded queue the overflow policy decides
// what happens. The drop callback runs after the queue lock is released.
func (q *Queue[T]) Put(item T) error {
	dropped, didDrop, err := q.put(item)
	if didDrop && q.opts.dropCallback != nil {
		q.opts.dropCallback(dropped)
	}
	return err
}

func (q *Queue[T]) put(item T) (dropped T, didDrop bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return dropped, false, errors.WrapInvalid(errors.ErrShuttingDown, "Queue", "Put", "queue closed")
	}

	if q.capacity > 0 && len(q.items) >= q.capacity {
		switch q.opts.overflowPolicy {
		case DropOldest:
			dropped, didDrop = q.items[0], true
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.recordDrop()

		case DropNewest:
			q.recordDrop()
			return item, true, nil

		case Block:
			for len(q.items) >= q.capacity && !q.closed {
				q.notFull.Wait()
			}
			if q.closed {
				return dropped, false, errors.WrapInvalid(errors.ErrShuttingDown, "Queue", "Put", "queue closed while waiting")
			}
		}
	}

	q.items = append(q.items, item)
	q.stats.put()
	q.stats.updateSize(int64(len(q.items)))
	if q.metrics != nil {
		q.metrics.puts.Inc()
		q.metrics.size.Set(float64(len(q.items)))
	}
	return dropped, didDrop, nil
}

// Drain removes and returns every queued item in FIFO order. It returns nil
// when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	snapshot := q.items
	q.items = nil

	q.stats.drain(len(snapshot))
	q.stats.updateSize(0)
	if q.metrics != nil {
		q.metrics.taken.Add(float64(len(snapshot)))
		q.metrics.size.Set(0)
	}

	q.notFull.Broadcast()
	return snapshot
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the bound, or zero for an unbounded queue.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Stats returns the queue statistics.
func (q *Queue[T]) Stats() *Statistics {
	return q.stats
}

// Close rejects further puts and releases blocked writers. Queued items stay
// available to Drain.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notFull.Broadcast()
	return nil
}

func (q *Queue[T]) recordDrop() {
	q.stats.drop()
	if q.metrics != nil {
		q.metrics.drops.Inc()
	}
}

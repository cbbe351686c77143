package buffer

import (
	"sync"
	"sync/atomic"
)

// Statistics tracks queue activity. Counters are updated atomically.
type Statistics struct {
	puts   int64
	drains int64
	taken  int64
	drops  int64

	mu          sync.RWMutex
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) put()  { atomic.AddInt64(&s.puts, 1) }
func (s *Statistics) drop() { atomic.AddInt64(&s.drops, 1) }

func (s *Statistics) drain(n int) {
	atomic.AddInt64(&s.drains, 1)
	atomic.AddInt64(&s.taken, int64(n))
}

func (s *Statistics) updateSize(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
}

// Puts returns the number of accepted items.
func (s *Statistics) Puts() int64 { return atomic.LoadInt64(&s.puts) }

// Drains returns the number of non-empty drains.
func (s *Statistics) Drains() int64 { return atomic.LoadInt64(&s.drains) }

// Taken returns the number of items handed out by drains.
func (s *Statistics) Taken() int64 { return atomic.LoadInt64(&s.taken) }

// Drops returns the number of items discarded by the overflow policy.
func (s *Statistics) Drops() int64 { return atomic.LoadInt64(&s.drops) }

// CurrentSize returns the queue length at the last operation.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the high-water mark of the queue length.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

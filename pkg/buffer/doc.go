// Package buffer provides the thread-safe FIFO that holds metric samples
// between the sampling path and the batch formatter.
//
// A Queue is unbounded when created with capacity zero. Bounded queues apply an
// OverflowPolicy on Put: DropOldest (default), DropNewest, or Block until the
// next drain.
//
// Drain is a snapshot: it removes everything queued at the moment of the call
// and returns it in insertion order. An empty queue drains to nil, which the
// formatter treats as "no data".
//
//	q, _ := buffer.NewQueue[Sample](0)
//	_ = q.Put(Sample{Timestamp: ts, Value: 10})
//	batch := q.Drain() // one item
//	batch = q.Drain()  // nil
//
// Statistics are always collected. WithMetrics also exports them to Prometheus
// under a per-queue label.
package buffer

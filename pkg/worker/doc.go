// Package worker provides a generic bounded worker pool.
//
// The gateway uses one pool to publish metric batches: the sampling scheduler
// submits a registered metric once its aggregation size is reached, and a
// worker drains and publishes it. Submit never blocks; when the queue is full
// the item is dropped and ErrQueueFull is returned, so a slow cloud cannot
// stall sampling.
//
//	pool := worker.NewPool(4, 256, publish,
//	    worker.WithRateLimit[*entity.Registered](20, 5),
//	    worker.WithErrorHandler(func(m *entity.Registered, err error) { ... }),
//	    worker.WithMetricsRegistry[*entity.Registered](registry, "publish_pool"),
//	)
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
package worker

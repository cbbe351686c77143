package worker

import "errors"

// Pool lifecycle and submission errors.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

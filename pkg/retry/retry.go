package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted is matched by the error Do returns once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// NonRetryableError stops Do after the attempt that returned it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err as final. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// ExhaustedError is returned when the attempt bound is reached. It matches
// ErrExhausted and unwraps to the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Config bounds a retry loop. Zero delays and multiplier take the package
// defaults of 100ms, 5s and 2.
type Config struct {
	MaxAttempts  int // values below 1 run fn once
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // 1 keeps the delay fixed
	AddJitter    bool    // add up to a quarter of the delay

	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Fixed sleeps the same interval between attempts.
func Fixed(attempts int, interval time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
}

// Startup is the policy for connecting to the broker when the gateway starts.
func Startup() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
}

func (c Config) normalized() (Config, error) {
	switch {
	case c.InitialDelay < 0:
		return c, errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return c, errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return c, errors.New("retry: Multiplier cannot be negative")
	}

	c.MaxAttempts = max(c.MaxAttempts, 1)
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	c.Multiplier = min(c.Multiplier, 1000)

	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// wait returns the sleep before the next attempt and the delay after it.
func (c Config) wait(delay time.Duration) (sleep, next time.Duration) {
	sleep = delay
	if c.AddJitter && delay >= 4 {
		sleep += rand.N(delay / 4)
	}

	grown := float64(delay) * c.Multiplier
	if grown >= float64(c.MaxDelay) {
		return sleep, c.MaxDelay
	}
	return sleep, time.Duration(grown)
}

// Do runs fn until it succeeds, returns a NonRetryable error, ctx ends, or
// MaxAttempts is reached.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case IsNonRetryable(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		case attempt >= cfg.MaxAttempts:
			return &ExhaustedError{Attempts: cfg.MaxAttempts, Err: err}
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		var sleep time.Duration
		sleep, delay = cfg.wait(delay)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

package iotcc

import (
	"time"

	"github.com/sanket-mindstix/liota/errors"
)

// Registration bounds the create-or-find polling loop.
type Registration struct {
	// MaxAttempts is the number of requests sent before giving up.
	MaxAttempts int `json:"max_attempts"`
	// Backoff is the pause after a "not yet created" answer or a silent attempt.
	Backoff time.Duration `json:"backoff"`
	// ResponseTimeout is how long each attempt waits for an answer.
	ResponseTimeout time.Duration `json:"response_timeout"`
}

// Config configures an IoTCC provider.
type Config struct {
	Username string `json:"username"`
	Password string `json:"password"`

	// LoginTimeout bounds the wait for connection_verified.
	LoginTimeout time.Duration `json:"login_timeout"`

	Registration Registration `json:"registration"`

	// EdgeSystemID, when set, is sent as the edge system's request id so the
	// cloud resolves the resource a previous run created.
	EdgeSystemID string `json:"-"`
}

// DefaultConfig polls for two minutes: 24 attempts, 5s apart.
func DefaultConfig() Config {
	return Config{
		LoginTimeout: 30 * time.Second,
		Registration: Registration{
			MaxAttempts:     24,
			Backoff:         5 * time.Second,
			ResponseTimeout: 10 * time.Second,
		},
	}
}

// Validate checks bounds.
func (c Config) Validate() error {
	r := c.Registration
	if r.MaxAttempts <= 0 {
		return errors.Configf("iotcc", "Validate", "registration max_attempts must be positive, got %d", r.MaxAttempts)
	}
	if r.Backoff <= 0 {
		return errors.Configf("iotcc", "Validate", "registration backoff must be positive, got %s", r.Backoff)
	}
	if r.ResponseTimeout <= 0 {
		return errors.Configf("iotcc", "Validate", "registration response_timeout must be positive, got %s", r.ResponseTimeout)
	}
	if c.LoginTimeout <= 0 {
		return errors.Configf("iotcc", "Validate", "login_timeout must be positive")
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.Configf("iotcc", "Validate", "username and password must be given together")
	}
	return nil
}

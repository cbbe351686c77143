package errors

import (
	"errors"
)

// ErrorClass tells a caller how to react to an error.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota // retry later
	ErrorInvalid                     // fix the input
	ErrorFatal                       // stop
)

var classNames = [...]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (c ErrorClass) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

// Transport.
var (
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
)

// ErrInvalidConfig marks malformed or missing configuration, including TLS
// credential material. It is raised before any network I/O happens.
var ErrInvalidConfig = errors.New("invalid configuration")

// Registration with a DCC.
var (
	ErrRegistrationFailed  = errors.New("registration failed")
	ErrRegistrationPending = errors.New("resource not yet created")
)

// Entity model.
var (
	ErrInvalidEntityKind = errors.New("invalid entity kind")
	ErrNotLinked         = errors.New("metric has no parent")
	ErrAlreadyLinked     = errors.New("entity already has a parent")
)

var (
	ErrLocalStorage = errors.New("local storage failure")
	ErrKeyNotFound  = errors.New("key not found")
	ErrNotSupported = errors.New("operation not supported")
)

// Lifecycle.
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrShuttingDown   = errors.New("shutting down")
)

// The standard helpers are re-exported so callers need a single import.

func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(text string) error         { return errors.New(text) }
func Join(errs ...error) error      { return errors.Join(errs...) }

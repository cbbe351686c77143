package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ClassifiedError carries a handling class and the component and operation
// that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

var (
	transientSentinels = []error{
		ErrConnectionTimeout, ErrConnectionLost, ErrNoConnection, ErrRegistrationPending,
		context.DeadlineExceeded, context.Canceled,
	}
	invalidSentinels = []error{ErrInvalidEntityKind, ErrNotLinked, ErrAlreadyLinked, ErrNotSupported}

	transientWords = []string{"timeout", "connection", "network", "temporary", "unavailable", "broken pipe"}
	fatalWords     = []string{"fatal", "panic", "disk full", "out of memory"}
)

// explicitClass returns the class of the outermost ClassifiedError in err.
func explicitClass(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mentionsAny(err error, words []string) bool {
	msg := strings.ToLower(err.Error())
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

// IsTransient reports whether retrying err may succeed. Unclassified errors
// are matched against the transport sentinels, then by message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorTransient
	}
	var ce *ConnectionError
	return errors.As(err, &ce) || matchesAny(err, transientSentinels) || mentionsAny(err, transientWords)
}

// IsFatal reports whether err should stop the gateway.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorFatal
	}
	return errors.Is(err, ErrInvalidConfig) || mentionsAny(err, fatalWords)
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorInvalid
	}
	return matchesAny(err, invalidSentinels)
}

// Classify picks a class for err. Anything neither invalid nor fatal is
// treated as transient.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// Wrap adds context in the form "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// Configf builds an invalid-class error matching ErrInvalidConfig.
func Configf(component, method, format string, args ...any) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)),
		component, method, "validate configuration")
}

// KindError builds an invalid-class error matching ErrInvalidEntityKind.
func KindError(component, method, format string, args ...any) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrInvalidEntityKind, fmt.Sprintf(format, args...)),
		component, method, "check entity kind")
}

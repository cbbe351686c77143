package errors

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError reports a failed connect or disconnect. ReasonCode carries
// the broker-reported code; it is zero when the attempt timed out.
type ConnectionError struct {
	Op         string
	ReasonCode int
	Err        error
}

// reasonServerUnavailable is the broker's "try again later" refusal.
const reasonServerUnavailable = 3

func NewConnectionError(op string, reasonCode int, err error) *ConnectionError {
	return &ConnectionError{Op: op, ReasonCode: reasonCode, Err: err}
}

func (e *ConnectionError) Error() string {
	if e.ReasonCode == 0 {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed with reason code %d: %v", e.Op, e.ReasonCode, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt expired before the broker answered.
func (e *ConnectionError) Timeout() bool {
	return errors.Is(e.Err, ErrConnectionTimeout) || errors.Is(e.Err, context.DeadlineExceeded)
}

// Refused reports whether the broker turned the client away with a reason
// code that a retry will not change. Server unavailable is not a refusal.
func (e *ConnectionError) Refused() bool {
	return e.ReasonCode != 0 && e.ReasonCode != reasonServerUnavailable
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"registration pending", ErrRegistrationPending, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"connection error", NewConnectionError("connect", 5, errors.New("refused")), true},
		{"entity kind", ErrInvalidEntityKind, false},
		{"network error", fmt.Errorf("network unreachable"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransient(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"wrapped config", fmt.Errorf("tls: %w", ErrInvalidConfig), true},
		{"fatal in message", fmt.Errorf("fatal system error"), true},
		{"connection timeout", ErrConnectionTimeout, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsFatal(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"entity kind", ErrInvalidEntityKind, true},
		{"not linked", ErrNotLinked, true},
		{"not supported", ErrNotSupported, true},
		{"kind error helper", KindError("Entity", "Attach", "metric parent"), true},
		{"connection lost", ErrConnectionLost, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsInvalid(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"transient", ErrConnectionLost, ErrorTransient},
		{"invalid", ErrInvalidEntityKind, ErrorInvalid},
		{"fatal", ErrInvalidConfig, ErrorFatal},
		{"unknown defaults to transient", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "C", "M", "a") != nil {
		t.Fatal("expected nil for nil error")
	}

	base := errors.New("disk gone")
	err := Wrap(base, "LocalStore", "Update", "write record")
	if !strings.Contains(err.Error(), "LocalStore.Update: write record failed") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match base")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Comp", "Op", "act")
			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ClassifiedError, got %T", err)
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "Comp" || ce.Operation != "Op" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if !errors.Is(err, base) {
				t.Error("expected chain to reach base error")
			}
			if test.wrap(nil, "C", "O", "a") != nil {
				t.Error("expected nil for nil error")
			}
		})
	}
}

func TestConnectionError(t *testing.T) {
	refused := NewConnectionError("connect", 5, errors.New("not authorized"))
	if refused.Timeout() {
		t.Error("reason code error should not report timeout")
	}
	if !strings.Contains(refused.Error(), "reason code 5") {
		t.Errorf("unexpected message: %s", refused.Error())
	}

	if !refused.Refused() {
		t.Error("reason code 5 should be a refusal")
	}

	timedOut := NewConnectionError("disconnect", 0, ErrConnectionTimeout)
	if !timedOut.Timeout() {
		t.Error("expected timeout")
	}
	if timedOut.Refused() {
		t.Error("timeout should not be a refusal")
	}
	if NewConnectionError("connect", 3, errors.New("server unavailable")).Refused() {
		t.Error("server unavailable should be retryable")
	}

	wrapped := fmt.Errorf("startup: %w", timedOut)
	var ce *ConnectionError
	if !As(wrapped, &ce) || ce.Op != "disconnect" {
		t.Errorf("expected ConnectionError through wrapping, got %v", wrapped)
	}
}

func TestConfigf(t *testing.T) {
	err := Configf("Identity", "Validate", "root CA %q does not exist", "/nope")
	if !Is(err, ErrInvalidConfig) {
		t.Error("expected ErrInvalidConfig")
	}
	if !IsInvalid(err) {
		t.Error("expected invalid class")
	}
	if !strings.Contains(err.Error(), "/nope") {
		t.Errorf("message lost detail: %s", err.Error())
	}
}

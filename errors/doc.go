// Package errors provides the error taxonomy shared by every gateway component.
//
// # Classification
//
// Errors fall into three classes that drive handling decisions:
//
//   - Transient: timeouts, lost connections, a cloud that has not created a
//     resource yet. Callers may retry.
//   - Invalid: wrong entity kind, unsupported provider operation, malformed
//     input. Never retried.
//   - Fatal: bad configuration and unrecoverable states. Startup stops.
//
// Use WrapTransient, WrapInvalid and WrapFatal to attach component context:
//
//	if err := comms.Send(ctx, payload); err != nil {
//	    return errors.WrapTransient(err, "IoTCC", "Register", "send request")
//	}
//
// Every wrapped error reads "component.method: action failed: cause" and keeps
// the cause reachable through errors.Is and errors.As.
//
// # Gateway taxonomy
//
//   - ErrInvalidConfig: TLS or credential material is malformed or missing.
//     Raised before any socket is opened.
//   - *ConnectionError: connect or disconnect timed out, or the broker
//     reported a non-zero reason code.
//   - ErrRegistrationFailed: registration did not resolve a cloud identifier.
//     When the cloud kept answering "not yet created" until the attempt bound
//     was exhausted, the error also matches ErrRegistrationPending.
//   - ErrInvalidEntityKind: relationship or hierarchy calls given the wrong kind
//     of entity.
//   - ErrLocalStorage: the local cache could not be read or written. Callers log
//     it and continue.
//
// The package re-exports Is, As, New and Join so callers need a single import.
package errors

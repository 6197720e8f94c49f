// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine. Frame- and parse-level errors
// never crash a session; queue errors surface as negative acknowledgments.
var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrMalformedMessage = errors.New("malformed message")
	ErrQueueFull        = errors.New("message queue full")
	ErrQueueClosed      = errors.New("message queue closed")
	ErrSessionClosed    = errors.New("session closed")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrUnknownProfile   = errors.New("unknown device profile")
)

// Malformed wraps a structural parse failure so callers can match it with
// errors.Is(err, ErrMalformedMessage).
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedMessage}, args...)...)
}

// TransientError marks a failure worth retrying (storage contention,
// temporary unavailability).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retries cannot fix (malformed clinical
// content, constraint violations). Entries carrying one are dead-lettered
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retriable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retriable. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is classified non-retriable. Malformed
// content is permanent by definition.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrMalformedMessage)
}

// IsTransient reports whether err should be retried. Unclassified errors
// default to transient: they get bounded retries and then the dead-letter
// log, which loses nothing.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}

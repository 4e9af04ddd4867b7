package host

import (
	"errors"
	"fmt"

	"github.com/roach88/lobj/internal/chunk"
)

// CallErrorCode categorizes errors raised by the host itself, as opposed to
// errors from the chunk engine that pass through unchanged.
type CallErrorCode string

const (
	// ErrCodeUnauthorized indicates the authorizer rejected the caller.
	ErrCodeUnauthorized CallErrorCode = "UNAUTHORIZED"

	// ErrCodeInvalidObject indicates the object ID is unknown or malformed.
	ErrCodeInvalidObject CallErrorCode = "INVALID_OBJECT"

	// ErrCodeTooManyObjects indicates Begin would exceed the object limit.
	ErrCodeTooManyObjects CallErrorCode = "TOO_MANY_OBJECTS"

	// ErrCodeStopped indicates the host is no longer running.
	ErrCodeStopped CallErrorCode = "STOPPED"
)

// CallError is returned when the host refuses a call.
type CallError struct {
	// Code identifies the error category.
	Code CallErrorCode

	// Op is the caller API operation, e.g. "append_chunk".
	Op string

	// Object is the object ID involved, if any.
	Object string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Object != "" {
		msg += fmt.Sprintf(" (object=%s)", e.Object)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code CallErrorCode) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsUnauthorized reports whether err is an UNAUTHORIZED CallError.
func IsUnauthorized(err error) bool {
	return hasCode(err, ErrCodeUnauthorized)
}

// IsInvalidObject reports whether err is an INVALID_OBJECT CallError.
func IsInvalidObject(err error) bool {
	return hasCode(err, ErrCodeInvalidObject)
}

// IsTooManyObjects reports whether err is a TOO_MANY_OBJECTS CallError.
func IsTooManyObjects(err error) bool {
	return hasCode(err, ErrCodeTooManyObjects)
}

// IsStopped reports whether err is a STOPPED CallError.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

// ErrorCode returns the machine-readable code for any host or engine error,
// or "" if err carries none.
func ErrorCode(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var ie *chunk.IncompleteUploadError
	if errors.As(err, &ie) {
		return string(ie.Code())
	}
	var de *chunk.DeserializationError
	if errors.As(err, &de) {
		return string(de.Code())
	}
	return ""
}

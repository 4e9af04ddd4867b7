package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes engine errors for callers and CLI output.
type ErrorCode string

const (
	// ErrCodeIncompleteUpload indicates consolidation was attempted before
	// every ordinal arrived. Recoverable: retransmit the missing ordinals.
	ErrCodeIncompleteUpload ErrorCode = "INCOMPLETE_UPLOAD"

	// ErrCodeDeserialization indicates a snapshot could not be restored.
	ErrCodeDeserialization ErrorCode = "DESERIALIZATION"
)

// maxListedOrdinals caps how many missing ordinals appear in Error().
const maxListedOrdinals = 16

// MaxCarriedOrdinals caps the Missing list of an IncompleteUploadError.
// Engine.Missing returns the full list.
const MaxCarriedOrdinals = 1024

// IncompleteUploadError is returned by Consolidate and Assemble when the chunk
// store does not cover [0, Expected).
type IncompleteUploadError struct {
	// Expected is the count the caller asked to consolidate.
	Expected uint32

	// Missing lists the lowest absent ordinals in ascending order, at most
	// MaxCarriedOrdinals of them.
	Missing []uint32

	// MissingCount is the total number of absent ordinals. Zero means
	// len(Missing).
	MissingCount uint32
}

// Count returns the total number of absent ordinals.
func (e *IncompleteUploadError) Count() uint32 {
	if e.MissingCount == 0 {
		return uint32(len(e.Missing))
	}
	return e.MissingCount
}

// Code returns ErrCodeIncompleteUpload.
func (e *IncompleteUploadError) Code() ErrorCode {
	return ErrCodeIncompleteUpload
}

// Error implements the error interface.
func (e *IncompleteUploadError) Error() string {
	listed := e.Missing
	if len(listed) > maxListedOrdinals {
		listed = listed[:maxListedOrdinals]
	}
	suffix := ""
	if more := e.Count() - uint32(len(listed)); more > 0 {
		suffix = fmt.Sprintf(", ... (%d more)", more)
	}
	parts := make([]string, len(listed))
	for i, ordinal := range listed {
		parts[i] = fmt.Sprintf("%d", ordinal)
	}
	return fmt.Sprintf("%s: %d of %d chunks missing [%s%s]",
		ErrCodeIncompleteUpload, e.Count(), e.Expected, strings.Join(parts, ", "), suffix)
}

// DeserializationError is returned by Import when a snapshot is malformed.
type DeserializationError struct {
	// Reason is a short description of what was wrong with the payload.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Code returns ErrCodeDeserialization.
func (e *DeserializationError) Code() ErrorCode {
	return ErrCodeDeserialization
}

// Error implements the error interface.
func (e *DeserializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCodeDeserialization, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrCodeDeserialization, e.Reason)
}

// Unwrap returns the underlying error.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsIncompleteUpload reports whether err is, or wraps, an IncompleteUploadError.
func IsIncompleteUpload(err error) bool {
	var ie *IncompleteUploadError
	return errors.As(err, &ie)
}

// IsDeserialization reports whether err is, or wraps, a DeserializationError.
func IsDeserialization(err error) bool {
	var de *DeserializationError
	return errors.As(err, &de)
}

// MissingOrdinals extracts the (possibly capped) missing list from an
// IncompleteUploadError.
// Returns nil, false for any other error.
func MissingOrdinals(err error) ([]uint32, bool) {
	var ie *IncompleteUploadError
	if errors.As(err, &ie) {
		return ie.Missing, true
	}
	return nil, false
}

func malformed(format string, args ...any) *DeserializationError {
	return &DeserializationError{Reason: fmt.Sprintf(format, args...)}
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrValidation marks batches rejected before anything was written.
var ErrValidation = errors.New("invalid upload")

// ValidationError carries the message shown to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ProcessingError is returned when a batch fails part way. Files processed
// before the failure stay on disk.
type ProcessingError struct {
	Index int
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("image %d: %s", e.Index, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

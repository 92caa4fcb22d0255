package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine conditions.
var (
	// ErrSchemaMismatch is returned when the model blob has the wrong format
	// identifier or schema version.
	ErrSchemaMismatch = errors.New("engine: model schema mismatch")

	// ErrArenaTooSmall is returned when the arena cannot hold the model's
	// tensors.
	ErrArenaTooSmall = errors.New("engine: tensor arena too small")

	// ErrMissingOp is returned when the model needs an operator that was
	// not registered.
	ErrMissingOp = errors.New("engine: operator not registered")

	// ErrNotLoaded is returned when Allocate is called before Load.
	ErrNotLoaded = errors.New("engine: model not loaded")

	// ErrNotAllocated is returned when tensors are used before Allocate.
	ErrNotAllocated = errors.New("engine: tensors not allocated")

	// ErrTensorIndex is returned for out-of-range tensor indices.
	ErrTensorIndex = errors.New("engine: tensor index out of range")

	// ErrUnknownBackend is returned for unsupported backend names.
	ErrUnknownBackend = errors.New("engine: unknown backend")
)

// StatusError reports a failed engine call.
type StatusError struct {
	// Op is the engine call that failed ("load", "allocate", "invoke").
	Op string

	// Backend identifies the engine.
	Backend string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("engine [%s]: %s failed: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with backend and operation context.
func WrapError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Op: op, Backend: backend, Err: err}
}

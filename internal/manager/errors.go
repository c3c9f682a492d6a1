package manager

import (
	"errors"
	"fmt"

	"lemond/pkg/types"
)

// modelNotFoundError is returned when a name does not resolve or a model is
// not loaded when it must be.
type modelNotFoundError struct {
	id  string
	err error
}

func (e modelNotFoundError) Error() string {
	if e.err != nil {
		return "model not found: " + e.id + ": " + e.err.Error()
	}
	return "model not found: " + e.id
}

func (e modelNotFoundError) Unwrap() error { return e.err }

// ErrModelNotFound returns an error for a model id that is not installed.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// capacityExceededError: the pool is full and every occupant is busy.
type capacityExceededError struct {
	category types.Category
	capacity int
}

func (e capacityExceededError) Error() string {
	return fmt.Sprintf("%s pool is full (%d loaded, all busy)", e.category, e.capacity)
}

// IsCapacityExceeded reports whether a load was refused for lack of an evictable slot.
func IsCapacityExceeded(err error) bool {
	var e capacityExceededError
	return errors.As(err, &e)
}

// npuConflictError: the NPU is held by a slot that cannot be evicted now.
type npuConflictError struct{ holder, want string }

func (e npuConflictError) Error() string {
	return fmt.Sprintf("NPU is in use by %s; cannot load %s", e.holder, e.want)
}

// IsNPUConflict reports whether the NPU token could not be freed.
func IsNPUConflict(err error) bool {
	var e npuConflictError
	return errors.As(err, &e)
}

// modelBusyError: the slot is loading, draining, or still serving requests.
type modelBusyError struct{ id, reason string }

func (e modelBusyError) Error() string { return "model " + e.id + " is busy: " + e.reason }

// IsModelBusy reports whether an operation was refused because the model is in use.
func IsModelBusy(err error) bool {
	var e modelBusyError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing collaborator (e.g. no catalog
// configured) so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

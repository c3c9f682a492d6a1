package registry

import (
	"errors"
	"net/http"
)

// ErrNotFound is returned when a model name is not in the catalog.
var ErrNotFound = errors.New("model not in catalog")

// invalidError rejects a malformed catalog entry. It carries an HTTP status
// so the API layer reports it as a client error.
type invalidError struct{ msg string }

func (e invalidError) Error() string   { return e.msg }
func (e invalidError) StatusCode() int { return http.StatusBadRequest }

// conflictError rejects a registration that would shadow a shipped model.
type conflictError struct{ name string }

func (e conflictError) Error() string {
	return "model " + e.name + " is built in and cannot be replaced"
}
func (e conflictError) StatusCode() int { return http.StatusConflict }

// IsInvalid reports whether err rejects a malformed entry.
func IsInvalid(err error) bool {
	var ie invalidError
	return errors.As(err, &ie)
}

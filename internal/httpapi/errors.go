package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"lemond/internal/backend"
	"lemond/internal/manager"
	"lemond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// OpenAI error classes.
const (
	errInvalidRequest = "invalid_request_error"
	errNotFound       = "not_found_error"
	errTimeout        = "timeout_error"
	errInternal       = "internal_error"
	errCapacity       = "capacity_exceeded"
	errConflict       = "conflict_error"
	errUnavailable    = "service_unavailable"
)

// badRequest is a validation failure detected by the HTTP layer.
type badRequest struct{ msg string }

func (e badRequest) Error() string   { return e.msg }
func (e badRequest) StatusCode() int { return http.StatusBadRequest }

// classify maps an error to an HTTP status and OpenAI error body.
func classify(err error) (int, types.ErrorBody) {
	status, typ := http.StatusInternalServerError, errInternal
	var he HTTPError
	switch {
	case errors.As(err, &badRequest{}):
		status, typ = http.StatusBadRequest, errInvalidRequest
	case manager.IsModelNotFound(err):
		status, typ = http.StatusNotFound, errNotFound
	case backend.IsLoadTimeout(err):
		status, typ = http.StatusGatewayTimeout, errTimeout
	case backend.IsLoadFailure(err), backend.IsCrashed(err):
		status, typ = http.StatusInternalServerError, errInternal
	case manager.IsCapacityExceeded(err):
		status, typ = http.StatusServiceUnavailable, errCapacity
	case manager.IsNPUConflict(err), manager.IsModelBusy(err):
		status, typ = http.StatusConflict, errConflict
	case manager.IsDependencyUnavailable(err):
		status, typ = http.StatusServiceUnavailable, errUnavailable
	case backend.IsUnsupported(err):
		status, typ = http.StatusBadRequest, errInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		status, typ = http.StatusGatewayTimeout, errTimeout
	case errors.As(err, &he):
		status = he.StatusCode()
		if status >= 400 && status < 500 {
			typ = errInvalidRequest
		}
	default:
		if ue, ok := backend.AsUpstream(err); ok {
			if ue.Status >= 400 && ue.Status < 500 {
				return ue.Status, types.ErrorBody{Message: ue.Message, Type: errInvalidRequest, Code: ue.Status}
			}
			return http.StatusInternalServerError, types.ErrorBody{Message: ue.Message, Type: errInternal, Code: http.StatusInternalServerError}
		}
	}
	return status, types.ErrorBody{Message: err.Error(), Type: typ, Code: status}
}

// classifyBody adapts classify for the streaming proxy's terminal error event.
func classifyBody(err error) types.ErrorBody {
	_, body := classify(err)
	return body
}

// writeError classifies err and writes the OpenAI error envelope.
func writeError(w http.ResponseWriter, err error) int {
	status, body := classify(err)
	if status == http.StatusServiceUnavailable || status == http.StatusConflict {
		IncrementRejected(body.Type)
	}
	writeJSON(w, status, types.ErrorResponse{Error: body})
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: types.ErrorBody{Message: msg, Type: typ, Code: status}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package backend

import (
	"errors"
	"fmt"
)

// ErrClientGone is returned by ForwardStream when the sink refused a chunk,
// which means the client connection is gone. It is not a backend failure.
var ErrClientGone = errors.New("client disconnected")

// LoadError reports a Start failure. Timeout distinguishes a health check
// that never succeeded from a process that could not start or exited early.
type LoadError struct {
	Model   string
	Timeout bool
	Reason  string
	Err     error
}

func (e *LoadError) Error() string {
	msg := "load " + e.Model + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// CrashedError reports that the backend process died while serving.
type CrashedError struct {
	Model string
	PID   int
	Err   error
}

func (e *CrashedError) Error() string {
	msg := fmt.Sprintf("backend for %s (pid %d) exited unexpectedly", e.Model, e.PID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CrashedError) Unwrap() error { return e.Err }

// UnsupportedError reports an endpoint or recipe a wrapper cannot serve.
type UnsupportedError struct{ What string }

func (e *UnsupportedError) Error() string { return "unsupported: " + e.What }

// UpstreamError carries a non-2xx reply from the backend process.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// IsLoadTimeout reports whether err is a health-check timeout.
func IsLoadTimeout(err error) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Timeout
}

// IsLoadFailure reports whether err is any Start failure.
func IsLoadFailure(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// IsCrashed reports whether err indicates the process died mid-request.
func IsCrashed(err error) bool {
	var ce *CrashedError
	return errors.As(err, &ce)
}

// IsUnsupported reports whether err is an UnsupportedError.
func IsUnsupported(err error) bool {
	var ue *UnsupportedError
	return errors.As(err, &ue)
}

// AsUpstream extracts an UpstreamError.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	ok := errors.As(err, &ue)
	return ue, ok
}

package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// maxUploadBytes bounds multipart audio uploads.
var maxUploadBytes int64 = 64 << 20

// SetMaxUploadBytes configures the transcription upload limit.
func SetMaxUploadBytes(n int64) {
	if n <= 0 {
		maxUploadBytes = 64 << 20
		return
	}
	maxUploadBytes = n
}

// inferTimeout caps a single inference request. Zero means no additional
// timeout beyond server/connection timeouts.
var inferTimeout time.Duration

// SetInferTimeout sets the inference timeout (0 disables).
func SetInferTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	inferTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// shutdownFunc is invoked (asynchronously) by POST /internal/shutdown.
var shutdownFunc func()

// SetShutdownFunc installs the callback behind /internal/shutdown. With no
// callback the endpoint answers 503.
func SetShutdownFunc(fn func()) { shutdownFunc = fn }

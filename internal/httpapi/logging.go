package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger used by the HTTP layer.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// loggingLineWriter logs complete SSE lines at debug level.
type loggingLineWriter struct {
	log zerolog.Logger
	buf []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(lw.buf[:idx])
		if len(line) > 0 {
			lw.log.Debug().Str("line", line).Msg("stream>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// teeResponseWriter copies the response body to a second writer while keeping
// the http.ResponseWriter (and Flusher) surface intact.
type teeResponseWriter struct {
	http.ResponseWriter
	tee io.Writer
}

func (t *teeResponseWriter) Write(p []byte) (int, error) {
	n, err := t.ResponseWriter.Write(p)
	if n > 0 {
		_, _ = t.tee.Write(p[:n])
	}
	return n, err
}

func (t *teeResponseWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from the environment; SetRequestLogLevel overrides it.
var defaultLogLevel = parseLevel(os.Getenv("LEMOND_REQUEST_LOG"))

// SetRequestLogLevel sets the per-request log level used when a request
// carries no override.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLogger tags the HTTP logger with the request id and path.
func requestLogger(r *http.Request) *zerolog.Logger {
	c := zlog.With().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		c = c.Str("request_id", rid)
	}
	l := c.Logger()
	return &l
}

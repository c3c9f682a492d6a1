package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lemond/internal/process"
	"lemond/pkg/types"
)

const (
	stderrTailBytes = 4096
	probeTimeout    = time.Second
	haltTimeout     = 2 * time.Second
	// How long a failed request waits for the process to be reaped before
	// deciding it crashed rather than hit a transient transport error.
	crashProbe = 300 * time.Millisecond
)

// ErrNotRunning is wrapped into a CrashedError when a request reaches a
// backend that has no live process.
var ErrNotRunning = errors.New("backend not running")

// launchSpec is what a variant contributes to a launch.
type launchSpec struct {
	bin  string
	args []string
	env  []string
	// Model id the child expects in request bodies; empty keeps the client's.
	model string
}

// server is the process and HTTP plumbing shared by every variant.
type server struct {
	kind       string
	cfg        Config
	log        zerolog.Logger
	healthPath string
	haltPath   string
	paths      map[Endpoint]string

	mu            sync.Mutex
	info          types.ModelInfo
	state         State
	handle        *process.Handle
	pid           int
	port          int
	baseURL       string
	upstreamModel string
	active        int
	tail          *tailBuffer
}

func newServer(kind string, cfg Config, healthPath string, paths map[Endpoint]string) *server {
	return &server{
		kind:       kind,
		cfg:        cfg,
		log:        cfg.Logger.With().Str("backend", kind).Logger(),
		healthPath: healthPath,
		paths:      paths,
		state:      StateIdle,
	}
}

func (s *server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func (s *server) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateFailed, StateStopped, StateStopping, StateIdle:
		return false
	}
	return s.handle.Running()
}

func (s *server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// launch spawns the program described by build and polls the health path
// until it answers 2xx, the process exits, the load budget runs out or ctx
// is canceled. Every failure path terminates the child and frees its port.
func (s *server) launch(ctx context.Context, info types.ModelInfo, build func(host string, port int) (launchSpec, error)) error {
	s.mu.Lock()
	if s.handle.Running() {
		s.mu.Unlock()
		return &LoadError{Model: info.Name, Reason: "backend already started"}
	}
	s.info = info
	s.state = StateSpawning
	s.mu.Unlock()

	port, err := s.cfg.Ports.Acquire()
	if err != nil {
		s.setState(StateFailed)
		return &LoadError{Model: info.Name, Reason: "no free port", Err: err}
	}
	host := s.cfg.Ports.Host()
	ls, err := build(host, port)
	if err != nil {
		s.cfg.Ports.Release(port)
		s.setState(StateFailed)
		return &LoadError{Model: info.Name, Reason: "invalid launch configuration", Err: err}
	}

	mlog := s.log.With().Str("model", info.Name).Logger()
	tail := newTailBuffer(stderrTailBytes)
	h, err := process.Spawn(process.Spec{
		Path:   ls.bin,
		Args:   ls.args,
		Env:    ls.env,
		Stdout: &lineLogger{log: mlog, stream: "stdout"},
		Stderr: io.MultiWriter(tail, &lineLogger{log: mlog, stream: "stderr"}),
	})
	if err != nil {
		s.cfg.Ports.Release(port)
		s.setState(StateFailed)
		mlog.Error().Err(err).Str("bin", ls.bin).Msg("backend spawn failed")
		return &LoadError{Model: info.Name, Reason: "spawn failed", Err: err}
	}
	base := "http://" + net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	s.handle, s.pid, s.port, s.baseURL = h, h.PID(), port, base
	s.upstreamModel = ls.model
	s.tail = tail
	s.state = StateHealthChecking
	s.mu.Unlock()
	mlog.Info().Str("event", "spawn").Int("pid", h.PID()).Int("port", port).Strs("args", ls.args).Msg("backend starting")

	start := time.Now()
	timeout := s.cfg.loadTimeout(info.Recipe)
	if err := s.waitHealthy(ctx, h, tail, base, timeout); err != nil {
		s.abort(h, port)
		mlog.Error().Err(err).Int("pid", h.PID()).Dur("elapsed", time.Since(start)).Msg("backend failed to become healthy")
		return err
	}
	s.setState(StateReady)
	mlog.Info().Str("event", "ready").Int("pid", h.PID()).Str("url", base).Dur("elapsed", time.Since(start)).Msg("backend ready")
	return nil
}

func (s *server) waitHealthy(ctx context.Context, h *process.Handle, tail *tailBuffer, base string, timeout time.Duration) error {
	name := s.info.Name
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.HealthInterval)
	defer tick.Stop()
	for {
		if s.probe(ctx, base) {
			return nil
		}
		select {
		case <-h.Done():
			werr := h.Err()
			if werr == nil {
				werr = errors.New("exit status 0")
			}
			if t := tail.String(); t != "" {
				werr = fmt.Errorf("%w; stderr tail: %s", werr, t)
			}
			return &LoadError{Model: name, Reason: "process exited before ready", Err: werr}
		case <-deadline.C:
			return &LoadError{Model: name, Timeout: true, Reason: fmt.Sprintf("not healthy after %s", timeout)}
		case <-ctx.Done():
			return &LoadError{Model: name, Reason: "load canceled", Err: ctx.Err()}
		case <-tick.C:
		}
	}
}

func (s *server) probe(ctx context.Context, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+s.healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *server) abort(h *process.Handle, port int) {
	if err := h.Terminate(s.cfg.StopTimeout); err != nil {
		s.log.Error().Err(err).Int("pid", h.PID()).Msg("failed to terminate backend after load failure")
	}
	s.cfg.Ports.Release(port)
	s.mu.Lock()
	s.handle = nil
	s.port, s.baseURL = 0, ""
	s.state = StateFailed
	s.mu.Unlock()
}

// Stop asks the child to exit (via its halt endpoint when it has one, then
// SIGTERM) and force-kills it after timeout. Calling Stop on a backend that
// never started or already stopped is a no-op.
func (s *server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	h, port, base, name := s.handle, s.port, s.baseURL, s.info.Name
	if h == nil {
		if s.state != StateStopping {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return nil
	}
	s.handle = nil
	s.state = StateStopping
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.cfg.StopTimeout
	}
	start := time.Now()
	if s.haltPath != "" && h.Running() {
		s.requestHalt(base)
		h.Wait(timeout)
	}
	err := h.Terminate(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.log.Error().Err(err).Str("model", name).Int("pid", h.PID()).Msg("backend did not exit")
		return fmt.Errorf("stop %s: %w", name, err)
	}
	s.cfg.Ports.Release(port)
	s.port, s.baseURL = 0, ""
	s.state = StateStopped
	s.log.Info().Str("event", "stop").Str("model", name).Int("pid", h.PID()).Dur("elapsed", time.Since(start)).Msg("backend stopped")
	return nil
}

func (s *server) requestHalt(base string) {
	ctx, cancel := context.WithTimeout(context.Background(), haltTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+s.haltPath, nil)
	if err != nil {
		return
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// target resolves the child URL for an endpoint.
func (s *server) target(ep Endpoint) (string, error) {
	p, ok := s.paths[ep]
	if !ok {
		return "", &UnsupportedError{What: s.kind + " does not serve " + string(ep)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseURL == "" || s.state == StateFailed {
		return "", &CrashedError{Model: s.info.Name, PID: s.pid, Err: ErrNotRunning}
	}
	return s.baseURL + p, nil
}

func (s *server) begin() {
	s.mu.Lock()
	s.active++
	if s.state == StateReady {
		s.state = StateServing
	}
	s.mu.Unlock()
}

func (s *server) end() {
	s.mu.Lock()
	s.active--
	if s.active == 0 && s.state == StateServing {
		s.state = StateReady
	}
	s.mu.Unlock()
}

// shapeBody copies the client body and applies the fields the child needs.
func (s *server) shapeBody(req *Request, stream bool) map[string]any {
	body := make(map[string]any, len(req.Body)+2)
	for k, v := range req.Body {
		body[k] = v
	}
	s.mu.Lock()
	if s.upstreamModel != "" {
		body["model"] = s.upstreamModel
	}
	s.mu.Unlock()
	switch req.Endpoint {
	case EndpointChat, EndpointCompletions:
		body["stream"] = stream
		if stream {
			body["stream_options"] = map[string]any{"include_usage": true}
		} else {
			delete(body, "stream_options")
		}
	}
	return body
}

func (s *server) post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, s.transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(resp.StatusCode, b)}
	}
	return resp, nil
}

// transportError classifies a failed exchange: the caller's cancellation,
// a crashed child, or a plain transport error.
func (s *server) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if crashed := s.checkCrashed(err); crashed != nil {
		return crashed
	}
	return fmt.Errorf("%s request: %w", s.kind, err)
}

func (s *server) checkCrashed(cause error) error {
	s.mu.Lock()
	h, pid, name, tb := s.handle, s.pid, s.info.Name, s.tail
	s.mu.Unlock()
	if h != nil && !h.Wait(crashProbe) {
		return nil
	}
	s.mu.Lock()
	if s.state != StateStopping && s.state != StateStopped {
		s.state = StateFailed
	}
	s.mu.Unlock()
	tail := ""
	if tb != nil {
		tail = tb.String()
	}
	s.log.Error().Err(cause).Str("model", name).Int("pid", pid).Str("stderr_tail", tail).Msg("backend exited unexpectedly")
	return &CrashedError{Model: name, PID: pid, Err: cause}
}

// Forward relays a JSON request and normalizes the JSON reply.
func (s *server) Forward(ctx context.Context, req *Request) (*Response, error) {
	url, err := s.target(req.Endpoint)
	if err != nil {
		return nil, err
	}
	s.begin()
	defer s.end()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	buf, err := json.Marshal(s.shapeBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	resp, err := s.post(ctx, url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.transportError(ctx, err)
	}
	body, usage := normalizeResponse(req.Endpoint, req.Model, raw)
	return &Response{Status: resp.StatusCode, Body: body, Usage: usage}, nil
}

// ForwardStream relays an SSE stream chunk by chunk. The request to the child
// is tied to ctx, so a canceled client aborts generation in the child.
func (s *server) ForwardStream(ctx context.Context, req *Request, sink Sink) error {
	url, err := s.target(req.Endpoint)
	if err != nil {
		return err
	}
	s.begin()
	defer s.end()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	buf, err := json.Marshal(s.shapeBody(req, true))
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := s.post(ctx, url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if l := strings.TrimSpace(line); len(l) > 5 && strings.EqualFold(l[:5], "data:") {
			data := strings.TrimSpace(l[5:])
			if data == "[DONE]" {
				return nil
			}
			c, err := decodeStreamChunk(data)
			if err != nil {
				if ue, ok := AsUpstream(err); ok {
					return ue
				}
				s.log.Debug().Err(err).Str("data", data).Msg("skipping undecodable stream event")
			} else if !c.Empty() {
				if err := sink.Chunk(c); err != nil {
					return fmt.Errorf("%w: %v", ErrClientGone, err)
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				// Some servers close without [DONE]; only a dead child is an error.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return s.checkCrashed(io.ErrUnexpectedEOF)
			}
			return s.transportError(ctx, rerr)
		}
	}
}

// upstreamMessage pulls a human-readable message out of an error body.
func upstreamMessage(status int, b []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(b, &env) == nil {
		var inner struct {
			Message string `json:"message"`
		}
		if len(env.Error) > 0 && json.Unmarshal(env.Error, &inner) == nil && inner.Message != "" {
			return inner.Message
		}
		var str string
		if len(env.Error) > 0 && json.Unmarshal(env.Error, &str) == nil && str != "" {
			return str
		}
		if env.Message != "" {
			return env.Message
		}
	}
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

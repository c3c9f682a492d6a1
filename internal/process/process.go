// Package process spawns and supervises a single child process. It knows
// nothing about models; callers own the returned Handle exclusively and must
// Terminate it on every exit path.
package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrUnkillable is returned when a process survives both the graceful signal
// and the forced kill.
var ErrUnkillable = errors.New("process did not exit after kill")

// killWait bounds how long Terminate waits after a forced kill.
const killWait = 5 * time.Second

// Spec describes the program to run.
type Spec struct {
	Path   string
	Args   []string
	Env    []string // nil inherits the parent environment
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Handle owns one running child process.
type Handle struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Spawn starts the program described by spec. A background goroutine reaps
// the child so Done is closed as soon as it exits.
func Spawn(spec Spec) (*Handle, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, errors.New("spawn: empty executable path")
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	h := &Handle{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.pid }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the child has not yet exited.
func (h *Handle) Running() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns the exit error once the process is done (nil for a clean exit
// or while still running).
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Wait blocks until the process exits or the timeout elapses. It reports
// whether the process exited.
func (h *Handle) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// Terminate asks the process to exit, waits up to grace, then force-kills it.
// Safe to call more than once and on an already-exited process.
func (h *Handle) Terminate(grace time.Duration) error {
	if h == nil || !h.Running() {
		return nil
	}
	if grace > 0 {
		if err := signalTerm(h.cmd.Process); err == nil && h.Wait(grace) {
			return nil
		}
	}
	_ = forceKill(h.cmd.Process)
	if !h.Wait(killWait) {
		return fmt.Errorf("pid %d: %w", h.pid, ErrUnkillable)
	}
	return nil
}

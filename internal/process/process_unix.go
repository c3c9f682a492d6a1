//go:build !windows

package process

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Children get their own process group so helpers they spawn are signalled too.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalTerm(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		return p.Signal(unix.SIGTERM)
	}
	return nil
}

func forceKill(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}

//go:build windows

package process

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGTERM; backends that support it are halted over HTTP
// before Terminate is reached, so the graceful step is reported unsupported.
func signalTerm(p *os.Process) error {
	return errors.New("graceful signal unsupported on windows")
}

func forceKill(p *os.Process) error { return p.Kill() }

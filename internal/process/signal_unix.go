//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminateGroup asks the whole process group to exit.
func terminateGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// killGroup force-terminates the whole process group.
func killGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// group leader already gone; try the pid itself
		err = syscall.Kill(pid, sig)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	return err
}

func signalZero(p *os.Process) error { return p.Signal(syscall.Signal(0)) }

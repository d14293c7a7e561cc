//go:build windows

package process

import "os"

// Windows has no SIGTERM; graceful termination is not available, so both
// paths terminate the process.
func terminateGroup(pid int) error { return killGroup(pid) }

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

func signalZero(p *os.Process) error {
	// FindProcess opens a handle on Windows and fails for dead pids.
	return p.Release()
}

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// killReapWait bounds how long Stop waits for the reaper after SIGKILL.
const killReapWait = 2 * time.Second

// outputWaitDelay bounds how long Wait keeps copying output after the
// process exited. Orphaned children may hold the pipe open forever.
const outputWaitDelay = time.Second

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int // -1 when terminated by a signal
	Err      error
	ExitedAt time.Time
}

// StartOptions carries everything Start needs besides the descriptor.
type StartOptions struct {
	Env    []string  // full "K=V" environment; nil inherits the supervisor's
	Stdout io.Writer // nil sends output to the null device
	Stderr io.Writer // nil sends output to the null device
}

// Handle is the live OS process of one app. It is owned by exactly one
// controller; Done is closed once the process has been reaped.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done chan struct{}
	mu   sync.Mutex
	exit ExitStatus
}

// Start spawns d and begins reaping it in the background.
func Start(d Descriptor, opts StartOptions) (*Handle, error) {
	path, err := Executable(d)
	if err != nil {
		return nil, &SpawnError{App: d.Name, Path: executableName(d), Err: err}
	}
	cmd := BuildCommand(d)
	cmd.Dir = d.WorkDir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd)
	// nil writers make exec open the null device, so no copy pipe exists
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}
	cmd.WaitDelay = outputWaitDelay

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{App: d.Name, Path: path, Err: err}
	}
	h := &Handle{
		name:      d.Name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func executableName(d Descriptor) string {
	if d.Interpreter != "" {
		return d.Interpreter
	}
	return d.Command
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	st := ExitStatus{ExitedAt: time.Now(), Code: -1}
	if ps := h.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
	}
	// ErrWaitDelay only means leftover children kept the output pipe open
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		st.Err = err
	}
	h.mu.Lock()
	h.exit = st
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed after the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Exit returns the exit status. It is the zero value until Done is closed.
func (h *Handle) Exit() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

// Uptime is the time the process has been (or was) running.
func (h *Handle) Uptime() time.Duration {
	if h.Exited() {
		return h.Exit().ExitedAt.Sub(h.startedAt)
	}
	return time.Since(h.startedAt)
}

// Stop sends a graceful termination signal to the process group, waits up
// to grace, and then kills the group. Calling Stop on an exited handle is a
// no-op. When the grace period is exceeded the returned error wraps
// ErrShutdownTimeout; the process is still gone when Stop returns.
func (h *Handle) Stop(grace time.Duration) error {
	if h.Exited() {
		return nil
	}
	if err := terminateGroup(h.pid); err != nil {
		return fmt.Errorf("signal %s (pid %d): %w", h.name, h.pid, err)
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
	}

	_ = killGroup(h.pid)
	select {
	case <-h.done:
	case <-time.After(killReapWait):
		return fmt.Errorf("%w: %s (pid %d) not reaped after kill", ErrShutdownTimeout, h.name, h.pid)
	}
	return fmt.Errorf("%w: %s (pid %d) killed after %s", ErrShutdownTimeout, h.name, h.pid, grace)
}

// Kill force-terminates the process group and waits briefly for the reaper.
func (h *Handle) Kill() {
	if h.Exited() {
		return
	}
	_ = killGroup(h.pid)
	select {
	case <-h.done:
	case <-time.After(killReapWait):
	}
}

// Alive reports whether pid refers to a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return signalZero(p) == nil
}

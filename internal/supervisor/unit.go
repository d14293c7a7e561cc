package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/policy"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/state"
	"github.com/loykin/keepr/internal/watch"
)

type action int

const (
	actionStart action = iota
	actionStop
	actionRestart
	actionExited
	actionChanged
	actionTimer
	actionReload
	actionStopWatch
	actionShutdown
)

func (a action) String() string {
	switch a {
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	case actionRestart:
		return "restart"
	case actionExited:
		return "exited"
	case actionChanged:
		return "changed"
	case actionTimer:
		return "timer"
	case actionReload:
		return "reload"
	case actionStopWatch:
		return "stop_watch"
	case actionShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type command struct {
	action action
	desc   process.Descriptor // actionReload
	handle *process.Handle    // actionExited
	gen    uint64             // actionTimer
	reply  chan error
}

// watchFunc opens a file watcher; watch.Watch outside tests.
type watchFunc func(ctx context.Context, opts watch.Options, onChange func(app string)) (*watch.Watcher, error)

type unitDeps struct {
	logger *slog.Logger
	store  *state.Store
	env    func(process.Descriptor) []string
	watch  watchFunc
	stdout io.Writer
	stderr io.Writer
}

// unit supervises one app. Every request, process exit, file change and
// restart timer is funneled through cmds and handled by a single goroutine,
// so at most one process per app is ever alive.
type unit struct {
	name string
	deps unitDeps
	log  *slog.Logger

	cmds chan command
	done chan struct{}

	// owned by the run goroutine
	desc     process.Descriptor
	policy   *policy.Engine
	handle   *process.Handle
	watcher  *watch.Watcher
	timer    *time.Timer
	timerGen uint64
	closing  bool
}

func policyConfig(d process.Descriptor) policy.Config {
	return policy.Config{
		AutoRestart: d.AutoRestart,
		MaxRestarts: d.MaxRestarts,
		MinUptime:   d.MinUptime,
		BaseDelay:   d.RestartDelay,
		MaxDelay:    d.MaxRestartDelay,
	}
}

func newUnit(d process.Descriptor, deps unitDeps) *unit {
	u := &unit{
		name:   d.Name,
		deps:   deps,
		log:    deps.logger.With("app", d.Name),
		cmds:   make(chan command, 16),
		done:   make(chan struct{}),
		desc:   d,
		policy: policy.New(policyConfig(d)),
	}
	go u.run()
	return u
}

// call enqueues c and waits for its reply.
func (u *unit) call(c command) error {
	c.reply = make(chan error, 1)
	select {
	case u.cmds <- c:
	case <-u.done:
		return errUnitClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-u.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return errUnitClosed
		}
	}
}

// post enqueues c without waiting for it to be handled. It is dropped once
// the unit has shut down.
func (u *unit) post(c command) {
	select {
	case u.cmds <- c:
	case <-u.done:
	}
}

func (u *unit) run() {
	defer close(u.done)
	// opened off the supervisor lock; the initial walk may be slow
	u.openWatcher()
	for {
		c := <-u.cmds
		err := u.handleCommand(c)
		if c.reply != nil {
			c.reply <- err
		}
		if c.action == actionShutdown {
			return
		}
	}
}

func (u *unit) handleCommand(c command) error {
	switch c.action {
	case actionStart:
		return u.handleStart()
	case actionStop:
		return u.handleStop()
	case actionRestart:
		return u.handleRestart()
	case actionExited:
		u.handleExited(c.handle)
	case actionChanged:
		u.log.Info("Change detected")
		u.relaunch(metrics.ReasonWatch)
	case actionTimer:
		u.handleTimer(c.gen)
	case actionReload:
		u.handleReload(c.desc)
	case actionStopWatch:
		u.closeWatcher()
	case actionShutdown:
		u.handleShutdown()
	default:
		return fmt.Errorf("unsupported command %s", c.action)
	}
	return nil
}

func (u *unit) record() state.Record {
	r, _ := u.deps.store.Get(u.name)
	return r
}

func (u *unit) update(fn func(r *state.Record)) {
	u.deps.store.Update(u.name, fn)
}

func (u *unit) handleStart() error {
	if u.closing {
		return ErrShuttingDown
	}
	if u.handle != nil {
		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, u.name, u.handle.PID())
	}
	u.cancelTimer()
	u.policy.Cancel()
	return u.spawn()
}

func (u *unit) handleStop() error {
	u.cancelTimer()
	u.policy.Cancel()
	if u.handle == nil {
		u.update(func(r *state.Record) {
			r.Status = state.StatusStopped
			r.PID = 0
		})
		return nil
	}
	u.terminate()
	metrics.IncStop(u.name)
	return nil
}

// handleRestart is the explicit user restart; it is the only path that
// resets the restart count.
func (u *unit) handleRestart() error {
	if u.closing {
		return ErrShuttingDown
	}
	u.cancelTimer()
	if u.handle != nil {
		u.terminate()
	}
	u.policy.Reset()
	now := time.Now()
	u.update(func(r *state.Record) {
		r.Restarts = 0
		r.LastRestartAt = now
	})
	metrics.IncRestart(u.name, metrics.ReasonUser)
	u.log.Info("Restarting app", "reason", metrics.ReasonUser)
	return u.spawn()
}

// spawn starts a new process. A spawn failure is handled like a crash with
// zero uptime so the policy engine still decides what happens next.
func (u *unit) spawn() error {
	u.update(func(r *state.Record) { r.Status = state.StatusStarting })
	h, err := process.Start(u.desc, process.StartOptions{
		Env:    u.deps.env(u.desc),
		Stdout: u.deps.stdout,
		Stderr: u.deps.stderr,
	})
	if err != nil {
		u.log.Error("Failed to start app", "error", err)
		u.afterExit(0, -1, err, true)
		return err
	}
	u.handle = h
	u.update(func(r *state.Record) {
		r.Status = state.StatusRunning
		r.PID = h.PID()
		r.StartedAt = h.StartedAt()
		r.LastError = ""
	})
	metrics.IncStart(u.name)
	u.log.Info("App started", "pid", h.PID())
	go u.awaitExit(h)
	return nil
}

func (u *unit) awaitExit(h *process.Handle) {
	<-h.Done()
	u.post(command{action: actionExited, handle: h})
}

func (u *unit) handleExited(h *process.Handle) {
	if h == nil || h != u.handle {
		return
	}
	u.handle = nil
	st := h.Exit()
	uptime := h.Uptime()
	u.log.Warn("App exited", "pid", h.PID(), "code", st.Code, "uptime", uptime.Round(time.Millisecond))
	u.afterExit(uptime, st.Code, st.Err, false)
}

// afterExit records an unexpected exit and applies the policy decision.
// The record moves straight to the decided status in one update, so a
// crash that will be retried is never reported as crashed. Only a spawn
// failure passes through crashed first.
func (u *unit) afterExit(uptime time.Duration, code int, cause error, spawnFailed bool) {
	now := time.Now()
	if code != 0 || cause != nil {
		metrics.IncCrash(u.name)
	}
	exited := func(r *state.Record) {
		r.PID = 0
		r.LastExitCode = code
		r.StoppedAt = now
		r.LastError = errText(cause)
	}
	if u.closing {
		u.update(func(r *state.Record) {
			exited(r)
			r.Status = state.StatusStopped
		})
		return
	}
	if spawnFailed {
		u.update(func(r *state.Record) {
			exited(r)
			r.Status = state.StatusCrashed
		})
	}

	d := u.policy.OnExit(uptime, false)
	u.update(func(r *state.Record) {
		exited(r)
		r.Restarts = d.Attempt
		r.Status = decidedStatus(d)
	})
	switch d.Action {
	case policy.ActionRestart:
		u.log.Info("Restart scheduled", "delay", d.Delay, "attempt", d.Attempt)
		u.schedule(d.Delay)
	case policy.ActionGiveUp:
		u.log.Error("Restart limit reached", "restarts", d.Attempt)
	}
}

func decidedStatus(d policy.Decision) state.Status {
	switch d.Action {
	case policy.ActionRestart:
		if d.State == policy.Backoff {
			return state.StatusBackoff
		}
		return state.StatusPendingRestart
	case policy.ActionStop:
		return state.StatusStopped
	default:
		return state.StatusCrashed
	}
}

func (u *unit) schedule(delay time.Duration) {
	u.cancelTimer()
	gen := u.timerGen
	u.timer = time.AfterFunc(delay, func() {
		u.post(command{action: actionTimer, gen: gen})
	})
}

// cancelTimer invalidates any pending restart, including one whose timer
// already fired and is waiting in the queue.
func (u *unit) cancelTimer() {
	u.timerGen++
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
}

func (u *unit) handleTimer(gen uint64) {
	if gen != u.timerGen || u.closing || u.handle != nil {
		return
	}
	u.timer = nil
	now := time.Now()
	u.update(func(r *state.Record) { r.LastRestartAt = now })
	metrics.IncRestart(u.name, metrics.ReasonPolicy)
	_ = u.spawn()
}

// relaunch restarts the app outside the policy engine: the restart count is
// neither incremented nor reset. Apps the user stopped stay stopped.
func (u *unit) relaunch(reason string) {
	if u.closing {
		return
	}
	if u.handle == nil {
		switch u.record().Status {
		case state.StatusStopped, state.StatusStopping:
			return
		}
		u.cancelTimer()
		u.policy.Cancel()
	} else {
		u.terminate()
	}
	now := time.Now()
	u.update(func(r *state.Record) { r.LastRestartAt = now })
	metrics.IncRestart(u.name, reason)
	u.log.Info("Restarting app", "reason", reason)
	_ = u.spawn()
}

func (u *unit) handleReload(d process.Descriptor) {
	old := u.desc
	u.desc = d
	u.policy.Update(policyConfig(d))
	if old.WatchChanged(d) {
		u.closeWatcher()
		u.openWatcher()
	}
	u.relaunch(metrics.ReasonReload)
}

func (u *unit) handleShutdown() {
	u.closing = true
	u.cancelTimer()
	u.closeWatcher()
	if u.handle != nil {
		u.terminate()
		metrics.IncStop(u.name)
		return
	}
	u.update(func(r *state.Record) {
		if r.Status == state.StatusPendingRestart || r.Status == state.StatusBackoff {
			r.Status = state.StatusStopped
		}
	})
}

// terminate stops the live process. The resulting exit is never fed to the
// policy engine.
func (u *unit) terminate() {
	h := u.handle
	u.handle = nil
	u.update(func(r *state.Record) { r.Status = state.StatusStopping })

	grace := u.desc.GracePeriod()
	err := h.Stop(grace)
	switch {
	case err == nil:
		u.log.Info("App stopped", "pid", h.PID())
	case errors.Is(err, process.ErrShutdownTimeout):
		u.log.Warn("App ignored stop signal and was killed", "pid", h.PID(), "grace", grace)
	default:
		u.log.Warn("Graceful stop failed, killing", "pid", h.PID(), "error", err)
		h.Kill()
	}

	st := h.Exit()
	now := time.Now()
	u.update(func(r *state.Record) {
		r.Status = state.StatusStopped
		r.PID = 0
		r.StoppedAt = now
		r.LastExitCode = st.Code
		if err != nil {
			r.Warn(err.Error())
		}
	})
}

func (u *unit) openWatcher() {
	if u.closing || !u.desc.Watch || len(u.desc.WatchPaths) == 0 {
		return
	}
	w, err := u.deps.watch(context.Background(), watch.Options{
		App:    u.name,
		Roots:  u.desc.WatchPaths,
		Ignore: u.desc.IgnoreWatch,
		Delay:  u.desc.WatchDelay,
		Logger: u.log,
	}, func(string) {
		u.post(command{action: actionChanged})
	})
	if err != nil {
		u.log.Error("File watching disabled", "error", err)
		u.update(func(r *state.Record) { r.Warn(err.Error()) })
		return
	}
	for _, we := range w.Disabled() {
		msg := we.Error()
		u.update(func(r *state.Record) { r.Warn(msg) })
	}
	u.watcher = w
}

func (u *unit) closeWatcher() {
	if u.watcher == nil {
		return
	}
	if err := u.watcher.Close(); err != nil {
		u.log.Debug("Closing watcher", "error", err)
	}
	u.watcher = nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

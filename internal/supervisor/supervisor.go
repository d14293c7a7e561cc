// Package supervisor runs the configured apps and keeps them alive.
//
// Each app is driven by its own unit goroutine; requests for one app are
// serialized, different apps never block each other.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/loykin/keepr/internal/env"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/state"
	"github.com/loykin/keepr/internal/watch"
)

type Options struct {
	Logger *slog.Logger
	Env    *env.Env     // nil uses the OS environment
	Store  *state.Store // nil creates a private store
	Stdout io.Writer    // app output; nil discards
	Stderr io.Writer
}

type Supervisor struct {
	logger *slog.Logger
	env    *env.Env
	store  *state.Store
	stdout io.Writer
	stderr io.Writer
	watch  watchFunc

	mu       sync.RWMutex
	units    map[string]*unit
	descs    map[string]process.Descriptor
	order    []string
	shutting bool
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		logger: opts.Logger,
		env:    opts.Env,
		store:  opts.Store,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		watch:  watch.Watch,
		units:  make(map[string]*unit),
		descs:  make(map[string]process.Descriptor),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.env == nil {
		s.env = env.New()
	}
	if s.store == nil {
		s.store = state.New()
	}
	s.store.Observe(func(t state.Transition) {
		metrics.RecordTransition(t.Name, string(t.From), string(t.To))
	})
	return s
}

// Store exposes the status records; observers for history export attach here.
func (s *Supervisor) Store() *state.Store { return s.store }

// Add registers d without starting it.
func (s *Supervisor) Add(d process.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting {
		return ErrShuttingDown
	}
	if _, ok := s.units[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAppExists, d.Name)
	}
	s.addLocked(d)
	return nil
}

func (s *Supervisor) addLocked(d process.Descriptor) *unit {
	d = d.Clone()
	s.store.Ensure(d.Name)
	u := newUnit(d, unitDeps{
		logger: s.logger,
		store:  s.store,
		env:    s.appEnv,
		watch:  s.watch,
		stdout: s.stdout,
		stderr: s.stderr,
	})
	s.units[d.Name] = u
	s.descs[d.Name] = d
	s.order = append(s.order, d.Name)
	return u
}

func (s *Supervisor) appEnv(d process.Descriptor) []string {
	return s.env.Merge(d.Env)
}

func (s *Supervisor) lookup(name string) (*unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	return u, nil
}

func (s *Supervisor) do(name string, a action) error {
	u, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.translate(name, u.call(command{action: a}))
}

// translate maps a closed unit to the error a caller can act on.
func (s *Supervisor) translate(name string, err error) error {
	if !errors.Is(err, errUnitClosed) {
		return err
	}
	s.mu.RLock()
	shutting := s.shutting
	s.mu.RUnlock()
	if shutting {
		return ErrShuttingDown
	}
	return fmt.Errorf("%w: %s", ErrUnknownApp, name)
}

// Start launches the app. It fails with ErrAlreadyRunning if a process is
// alive, and with a *process.SpawnError if the executable cannot be run (in
// which case a restart may still be scheduled).
func (s *Supervisor) Start(name string) error { return s.do(name, actionStart) }

// Stop terminates the app and cancels any pending restart. Stopping a stopped
// app is a no-op.
func (s *Supervisor) Stop(name string) error { return s.do(name, actionStop) }

// Restart stops and starts the app and resets its restart count.
func (s *Supervisor) Restart(name string) error { return s.do(name, actionRestart) }

// StartAll starts every registered app that is not running yet.
func (s *Supervisor) StartAll() error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.Start(name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names returns the registered apps in registration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Descriptor returns the descriptor currently applied for name.
func (s *Supervisor) Descriptor(name string) (process.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descs[name]
	if !ok {
		return process.Descriptor{}, false
	}
	return d.Clone(), true
}

func (s *Supervisor) Status(name string) (state.Record, error) {
	r, ok := s.store.Get(name)
	if !ok {
		return state.Record{}, fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	return r, nil
}

func (s *Supervisor) StatusAll() []state.Record { return s.store.Snapshot() }

// PIDs returns the pid of every running app, keyed by name.
func (s *Supervisor) PIDs() map[string]int {
	out := make(map[string]int)
	for _, r := range s.store.Snapshot() {
		if r.Status == state.StatusRunning && r.PID > 0 {
			out[r.Name] = r.PID
		}
	}
	return out
}

// Remove stops the app and forgets it.
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	if s.shutting {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	u, ok := s.units[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}
	s.dropLocked(name)
	s.mu.Unlock()

	s.retire(name, u)
	return nil
}

func (s *Supervisor) dropLocked(name string) {
	delete(s.units, name)
	delete(s.descs, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
}

func (s *Supervisor) retire(name string, u *unit) {
	_ = u.call(command{action: actionShutdown})
	s.store.Remove(name)
	metrics.Forget(name)
	s.logger.Info("App removed", "app", name)
}

// Apply reconciles the running set with descs: new apps are added and
// started, missing apps are stopped and dropped, changed apps are restarted
// with their new descriptor and unchanged apps are left alone.
func (s *Supervisor) Apply(descs []process.Descriptor) error {
	want := make(map[string]process.Descriptor, len(descs))
	for _, d := range descs {
		if _, dup := want[d.Name]; dup {
			return fmt.Errorf("duplicate app %q", d.Name)
		}
		want[d.Name] = d
	}

	type change struct {
		name string
		u    *unit
		desc process.Descriptor
	}
	var removed, changed, added []change

	s.mu.Lock()
	if s.shutting {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	for _, name := range slices.Clone(s.order) {
		if _, ok := want[name]; !ok {
			removed = append(removed, change{name: name, u: s.units[name]})
			s.dropLocked(name)
		}
	}
	for _, d := range descs {
		cur, ok := s.descs[d.Name]
		switch {
		case !ok:
			u := s.addLocked(d)
			added = append(added, change{name: d.Name, u: u})
		case !cur.Equal(d):
			d = d.Clone()
			s.descs[d.Name] = d
			changed = append(changed, change{name: d.Name, u: s.units[d.Name], desc: d})
		}
	}
	order := make([]string, 0, len(descs))
	for _, d := range descs {
		order = append(order, d.Name)
	}
	s.order = order
	s.mu.Unlock()

	s.logger.Info("Applying configuration",
		"added", len(added), "removed", len(removed), "changed", len(changed))

	var errs []error
	for _, c := range removed {
		s.retire(c.name, c.u)
	}
	for _, c := range changed {
		if err := c.u.call(command{action: actionReload, desc: c.desc}); err != nil {
			errs = append(errs, fmt.Errorf("reload %s: %w", c.name, s.translate(c.name, err)))
		}
	}
	for _, c := range added {
		if err := c.u.call(command{action: actionStart}); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", c.name, s.translate(c.name, err)))
		}
	}
	return errors.Join(errs...)
}

// ShutdownAll closes every watcher, then stops every app concurrently.
// Pending restart timers are cancelled and no restart is scheduled once it
// has begun. It returns ctx.Err() if ctx ends first; units keep stopping in
// the background in that case.
func (s *Supervisor) ShutdownAll(ctx context.Context) error {
	s.mu.Lock()
	if s.shutting {
		s.mu.Unlock()
		return nil
	}
	s.shutting = true
	units := make([]*unit, 0, len(s.order))
	for _, name := range s.order {
		units = append(units, s.units[name])
	}
	s.mu.Unlock()

	s.logger.Info("Shutting down", "apps", len(units))
	done := make(chan struct{})
	go func() {
		defer close(done)
		broadcast(units, actionStopWatch)
		broadcast(units, actionShutdown)
	}()

	select {
	case <-done:
		s.logger.Info("Shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown interrupted", "error", ctx.Err())
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func broadcast(units []*unit, a action) {
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			_ = u.call(command{action: a})
		}(u)
	}
	wg.Wait()
}

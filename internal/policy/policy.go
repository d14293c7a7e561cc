// Package policy decides what happens after a managed process exits.
//
// An Engine is owned by a single supervisor unit and is not safe for
// concurrent use; the unit's serialized command loop provides ordering.
package policy

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the engine's view of the app between runs.
type State int

const (
	Idle State = iota
	PendingRestart
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingRestart:
		return "pending_restart"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Action is the outcome of OnExit.
type Action int

const (
	// ActionRestart schedules a restart after Decision.Delay.
	ActionRestart Action = iota
	// ActionStop leaves the app stopped (autorestart disabled or user stop).
	ActionStop
	// ActionGiveUp marks the app crashed; restarts are exhausted.
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionStop:
		return "stop"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Config holds the per-app restart parameters.
type Config struct {
	AutoRestart bool
	MaxRestarts int           // negative means unlimited
	MinUptime   time.Duration // runs at least this long reset the backoff delay; 0 resets after every run
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Decision tells the caller what to do about an exit.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Attempt int // restart count after this decision
	State   State
}

// Engine implements the restart state machine for one app.
type Engine struct {
	cfg      Config
	state    State
	restarts int
	bo       *backoff.ExponentialBackOff
}

// New returns an Idle engine for cfg.
func New(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.bo = newBackoff(cfg)
	return e
}

func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// OnExit records a process exit and returns what should happen next.
// userStop marks exits caused by an explicit stop request; those never
// restart. A SpawnError is reported as an exit with zero uptime.
func (e *Engine) OnExit(uptime time.Duration, userStop bool) Decision {
	if userStop {
		e.state = Idle
		return Decision{Action: ActionStop, Attempt: e.restarts, State: e.state}
	}
	if uptime >= e.cfg.MinUptime {
		e.bo.Reset()
		e.state = Idle
	}
	if !e.cfg.AutoRestart {
		e.state = Idle
		return Decision{Action: ActionStop, Attempt: e.restarts, State: e.state}
	}
	if e.cfg.MaxRestarts >= 0 && e.restarts >= e.cfg.MaxRestarts {
		e.state = Idle
		return Decision{Action: ActionGiveUp, Attempt: e.restarts, State: e.state}
	}

	delay := e.bo.NextBackOff()
	if delay == backoff.Stop {
		delay = e.bo.MaxInterval
	}
	e.restarts++
	if e.state == Idle {
		e.state = PendingRestart
	} else {
		e.state = Backoff
	}
	return Decision{Action: ActionRestart, Delay: delay, Attempt: e.restarts, State: e.state}
}

// Reset clears the restart count and the backoff delay. Only an explicit
// user restart calls this.
func (e *Engine) Reset() {
	e.restarts = 0
	e.state = Idle
	e.bo.Reset()
}

// Cancel drops a pending restart without touching the count.
func (e *Engine) Cancel() { e.state = Idle }

// Update swaps the configuration, keeping the restart count.
func (e *Engine) Update(cfg Config) {
	e.cfg = cfg
	e.bo = newBackoff(cfg)
}

func (e *Engine) State() State   { return e.state }
func (e *Engine) Restarts() int  { return e.restarts }
func (e *Engine) Config() Config { return e.cfg }

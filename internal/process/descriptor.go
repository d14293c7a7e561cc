package process

import (
	"maps"
	"slices"
	"time"
)

// Default policy and timing values applied by the config loader when an app
// leaves them unset.
const (
	DefaultMaxRestarts     = 15
	DefaultMinUptime       = time.Second
	DefaultRestartDelay    = 100 * time.Millisecond
	DefaultMaxRestartDelay = 15 * time.Second
	DefaultKillTimeout     = 1600 * time.Millisecond
	DefaultWatchDelay      = 300 * time.Millisecond
)

// Descriptor is the static definition of one managed app.
// It is treated as immutable once loaded; reloading produces new values.
type Descriptor struct {
	Name        string            `json:"name"`
	Command     string            `json:"cmd"`                   // entry command or script path
	Args        []string          `json:"args,omitempty"`        // extra arguments after Command
	WorkDir     string            `json:"cwd"`                   // absolute working directory
	Interpreter string            `json:"interpreter,omitempty"` // empty means exec Command directly
	AutoRestart bool              `json:"autorestart"`
	Watch       bool              `json:"watch"`
	WatchPaths  []string          `json:"watch_paths,omitempty"`  // absolute roots, resolved at load
	IgnoreWatch []string          `json:"ignore_watch,omitempty"` // globs relative to each watch root
	Env         map[string]string `json:"env,omitempty"`

	MaxRestarts     int           `json:"max_restarts"` // negative means unlimited
	MinUptime       time.Duration `json:"min_uptime"`
	RestartDelay    time.Duration `json:"restart_delay"`
	MaxRestartDelay time.Duration `json:"max_restart_delay"`
	KillTimeout     time.Duration `json:"kill_timeout"`
	WatchDelay      time.Duration `json:"watch_delay"`
}

// Equal reports whether two descriptors are identical field by field.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Name == o.Name &&
		d.Command == o.Command &&
		slices.Equal(d.Args, o.Args) &&
		d.WorkDir == o.WorkDir &&
		d.Interpreter == o.Interpreter &&
		d.AutoRestart == o.AutoRestart &&
		d.Watch == o.Watch &&
		slices.Equal(d.WatchPaths, o.WatchPaths) &&
		slices.Equal(d.IgnoreWatch, o.IgnoreWatch) &&
		maps.Equal(d.Env, o.Env) &&
		d.MaxRestarts == o.MaxRestarts &&
		d.MinUptime == o.MinUptime &&
		d.RestartDelay == o.RestartDelay &&
		d.MaxRestartDelay == o.MaxRestartDelay &&
		d.KillTimeout == o.KillTimeout &&
		d.WatchDelay == o.WatchDelay
}

// WatchChanged reports whether the watch configuration differs.
func (d Descriptor) WatchChanged(o Descriptor) bool {
	return d.Watch != o.Watch ||
		d.WatchDelay != o.WatchDelay ||
		!slices.Equal(d.WatchPaths, o.WatchPaths) ||
		!slices.Equal(d.IgnoreWatch, o.IgnoreWatch)
}

// Clone returns a deep copy so callers can never share slices or maps.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Args = slices.Clone(d.Args)
	c.WatchPaths = slices.Clone(d.WatchPaths)
	c.IgnoreWatch = slices.Clone(d.IgnoreWatch)
	if d.Env != nil {
		c.Env = maps.Clone(d.Env)
	}
	return c
}

// GracePeriod returns KillTimeout or the default when unset.
func (d Descriptor) GracePeriod() time.Duration {
	if d.KillTimeout <= 0 {
		return DefaultKillTimeout
	}
	return d.KillTimeout
}

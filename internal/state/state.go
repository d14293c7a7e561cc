package state

import (
	"slices"
	"sync"
	"time"
)

// Status is the supervision status of one app.
type Status string

const (
	StatusStopped        Status = "stopped"
	StatusStarting       Status = "starting"
	StatusRunning        Status = "running"
	StatusStopping       Status = "stopping"
	StatusCrashed        Status = "crashed"
	StatusPendingRestart Status = "pending_restart"
	StatusBackoff        Status = "backoff"
)

// maxWarnings bounds Record.Warnings; older entries are dropped first.
const maxWarnings = 10

// Record is the runtime state tracked per app.
type Record struct {
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	PID           int       `json:"pid"`
	Restarts      int       `json:"restarts"`
	LastExitCode  int       `json:"last_exit_code"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	LastRestartAt time.Time `json:"last_restart_at"`
	Warnings      []string  `json:"warnings,omitempty"`
}

// Uptime is the time since the current run started, or zero when not running.
func (r Record) Uptime(now time.Time) time.Duration {
	if r.Status != StatusRunning || r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt)
}

// Warn appends a warning, keeping only the newest maxWarnings.
func (r *Record) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
	if n := len(r.Warnings); n > maxWarnings {
		r.Warnings = slices.Clone(r.Warnings[n-maxWarnings:])
	}
}

func (r Record) clone() Record {
	r.Warnings = slices.Clone(r.Warnings)
	return r
}

// Transition is delivered to observers whenever a record's Status changes.
type Transition struct {
	Name   string
	From   Status
	To     Status
	At     time.Time
	Record Record
}

// Observer receives transitions. It runs on the writer's goroutine after the
// store lock is released and must not block for long.
type Observer func(Transition)

// Store holds one Record per app. Reads return copies; writes are short
// critical sections.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*Record
	order     []string
	observers []Observer
}

func New() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Observe registers o for all future transitions.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Ensure creates a stopped record for name if none exists.
func (s *Store) Ensure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; ok {
		return
	}
	s.records[name] = &Record{Name: name, Status: StatusStopped}
	s.order = append(s.order, name)
}

// Remove drops the record for name.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return
	}
	delete(s.records, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
}

// Update applies fn to the record for name under the write lock and returns
// the resulting copy. It reports false when name is unknown.
func (s *Store) Update(name string, fn func(r *Record)) (Record, bool) {
	s.mu.Lock()
	r, ok := s.records[name]
	if !ok {
		s.mu.Unlock()
		return Record{}, false
	}
	from := r.Status
	fn(r)
	out := r.clone()
	var obs []Observer
	if from != r.Status {
		obs = slices.Clone(s.observers)
	}
	s.mu.Unlock()

	if len(obs) > 0 {
		t := Transition{Name: name, From: from, To: out.Status, At: time.Now(), Record: out}
		for _, o := range obs {
			o(t)
		}
	}
	return out, true
}

// Get returns a copy of the record for name.
func (s *Store) Get(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Snapshot returns copies of all records in registration order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.records[n].clone())
	}
	return out
}

package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/keepr/internal/state"
)

const (
	recorderBuffer = 256
	sendTimeout    = 5 * time.Second
)

// Recorder fans events out to sinks on its own goroutine so a slow sink
// never blocks a supervisor unit. When the buffer is full events are
// dropped and counted.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger.With("component", "history"),
		events: make(chan Event, recorderBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe is a state.Observer.
func (r *Recorder) Observe(t state.Transition) { r.Record(FromTransition(t)) }

// Record enqueues e without blocking.
func (r *Recorder) Record(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("History buffer full, dropping events")
		}
	}
}

// Dropped returns the number of events lost to a full buffer.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.events {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := s.Send(ctx, e); err != nil {
				r.logger.Warn("History sink failed", "app", e.Record.Name, "event", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Close flushes queued events, waiting at most until ctx is done, then
// closes every sink that implements io.Closer.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	var errs []error
	select {
	case <-r.done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

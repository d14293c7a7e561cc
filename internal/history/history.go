package history

import (
	"context"
	"time"

	"github.com/loykin/keepr/internal/state"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart            EventType = "start"
	EventStop             EventType = "stop"
	EventCrash            EventType = "crash"
	EventRestartScheduled EventType = "restart_scheduled"
	EventStarting         EventType = "starting"
	EventStopping         EventType = "stopping"
)

// Event is one app state transition exported to external systems.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	From       state.Status `json:"from"`
	Record     state.Record `json:"record"`
}

// TypeOf maps the status an app entered to an event type.
func TypeOf(to state.Status) EventType {
	switch to {
	case state.StatusRunning:
		return EventStart
	case state.StatusStopped:
		return EventStop
	case state.StatusCrashed:
		return EventCrash
	case state.StatusPendingRestart, state.StatusBackoff:
		return EventRestartScheduled
	case state.StatusStarting:
		return EventStarting
	default:
		return EventStopping
	}
}

// FromTransition converts a store transition into an Event.
func FromTransition(t state.Transition) Event {
	return Event{
		Type:       TypeOf(t.To),
		OccurredAt: t.At.UTC(),
		From:       t.From,
		Record:     t.Record,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
